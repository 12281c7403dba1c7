package coupon

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/StreamPass/app/models"
)

var (
	// ErrCouponRejected is wrapped by every reason a coupon cannot be applied.
	ErrCouponRejected = errors.New("coupon rejected")

	ErrCouponNotFound      = fmt.Errorf("%w: coupon not found", ErrCouponRejected)
	ErrCouponInactive      = fmt.Errorf("%w: coupon inactive", ErrCouponRejected)
	ErrCouponExpired       = fmt.Errorf("%w: coupon expired", ErrCouponRejected)
	ErrCouponExhausted     = fmt.Errorf("%w: coupon usage limit reached", ErrCouponRejected)
	ErrCouponScopeMismatch = fmt.Errorf("%w: coupon does not apply to this item", ErrCouponRejected)
)

// PurchaseContext describes the purchase a coupon is evaluated against.
type PurchaseContext struct {
	Gross       int64
	PerformerID string
	ContentID   string
	ItemType    string
	Now         time.Time
}

// Discount is the result of applying a coupon to a gross price.
type Discount struct {
	CouponID string
	Gross    int64
	Discount int64
	Net      int64
}

// Evaluate applies c to the purchase. A nil coupon means the code does not
// exist. Evaluate performs no I/O; usage is only read here, the increment
// happens inside the purchase transaction.
func Evaluate(c *models.Coupon, pc PurchaseContext) (Discount, error) {
	if c == nil {
		return Discount{}, ErrCouponNotFound
	}
	if !c.Active {
		return Discount{}, ErrCouponInactive
	}
	if c.ValidFrom != nil && pc.Now.Before(*c.ValidFrom) {
		return Discount{}, ErrCouponExpired
	}
	if c.ValidUntil != nil && pc.Now.After(*c.ValidUntil) {
		return Discount{}, ErrCouponExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return Discount{}, ErrCouponExhausted
	}
	if !scopeMatches(c, pc) {
		return Discount{}, ErrCouponScopeMismatch
	}

	discount := discountFor(c, pc.Gross)
	net := pc.Gross - discount

	floor := int64(1)
	if c.AllowFree {
		floor = 0
	}
	if net < floor {
		net = floor
		if net > pc.Gross {
			net = pc.Gross
		}
		discount = pc.Gross - net
	}

	return Discount{
		CouponID: c.ID,
		Gross:    pc.Gross,
		Discount: discount,
		Net:      net,
	}, nil
}

func scopeMatches(c *models.Coupon, pc PurchaseContext) bool {
	switch c.Scope {
	case models.CouponScopeGlobal, "":
		return true
	case models.CouponScopePerformer:
		return c.ScopePerformerID != "" && c.ScopePerformerID == pc.PerformerID
	case models.CouponScopeContent:
		if c.ScopeContentID == "" || c.ScopeContentID != pc.ContentID {
			return false
		}
		return c.ScopeItemType == "" || c.ScopeItemType == pc.ItemType
	}
	return false
}

func discountFor(c *models.Coupon, gross int64) int64 {
	if gross <= 0 {
		return 0
	}
	switch c.DiscountType {
	case models.CouponDiscountPercentage:
		pct := c.DiscountValue
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		return mulDiv100(gross, pct)
	case models.CouponDiscountFixed:
		if c.DiscountValue <= 0 {
			return 0
		}
		if c.DiscountValue > gross {
			return gross
		}
		return c.DiscountValue
	}
	return 0
}

// mulDiv100 computes floor(gross*pct/100) without overflowing for large gross.
func mulDiv100(gross, pct int64) int64 {
	return (gross/100)*pct + (gross%100)*pct/100
}
