package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
)

var (
	ErrInvalidRequest   = errors.New("invalid purchase request")
	ErrItemNotFound     = errors.New("item not found")
	ErrAlreadyPurchased = errors.New("item already purchased")
	ErrNotFound         = errors.New("purchase not found")
	ErrGatewayTimeout   = errors.New("payment gateway timed out")
	ErrGatewayFailure   = errors.New("payment gateway failed")
	ErrTopUpNotFound    = errors.New("top-up not found")
	ErrRefundFailed     = errors.New("top-up refund failed")
	ErrRefundInProgress = errors.New("top-up refund already in progress")

	ErrCouponNotAllowed = fmt.Errorf("%w: coupons do not apply to tips or top-ups", coupon.ErrCouponRejected)
)

// Item identifies what is being bought. Amount is only read for tips and
// top-ups; content is always priced from the catalog.
type Item struct {
	Type        string `json:"type" validate:"required,oneof=photo video feed stream tip topup"`
	ID          string `json:"id" validate:"omitempty,max=64"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	PerformerID string `json:"performer_id" validate:"omitempty,max=64"`
}

type Request struct {
	BuyerID    string `json:"-" validate:"required,max=64"`
	Item       Item   `json:"item"`
	CouponCode string `json:"coupon_code" validate:"omitempty,max=64"`
	// RequestID is the client's idempotency token for tips and top-ups.
	RequestID string `json:"request_id" validate:"omitempty,max=100"`
	// FullPriceOnCouponReject completes the purchase at gross price when the
	// coupon turns out to be unusable instead of failing.
	FullPriceOnCouponReject bool `json:"full_price_on_coupon_reject"`
}

type Receipt struct {
	PurchaseID    string    `json:"purchase_id"`
	BuyerID       string    `json:"buyer_id"`
	ItemType      string    `json:"item_type"`
	ItemID        string    `json:"item_id"`
	PerformerID   string    `json:"performer_id,omitempty"`
	GrossAmount   int64     `json:"gross_amount"`
	NetAmount     int64     `json:"net_amount"`
	Discount      int64     `json:"discount"`
	CouponID      string    `json:"coupon_id,omitempty"`
	LedgerEntryID string    `json:"ledger_entry_id,omitempty"`
	Replayed      bool      `json:"replayed"`
	Pending       bool      `json:"pending,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContentKey is the idempotency key of a content purchase. One buyer owns an
// item at most once.
func ContentKey(buyerID, itemID, itemType string) string {
	sum := sha256.Sum256([]byte(buyerID + "|" + itemID + "|" + itemType))
	return "purchase:" + hex.EncodeToString(sum[:])
}

func TipKey(buyerID, requestID string) string {
	return "tip:" + buyerID + ":" + requestID
}

func TopUpKey(buyerID, requestID string) string {
	return "topup:" + buyerID + ":" + requestID
}

func receiptFrom(p *models.Purchase, replayed bool) *Receipt {
	return &Receipt{
		PurchaseID:    p.ID,
		BuyerID:       p.BuyerID,
		ItemType:      p.ItemType,
		ItemID:        p.ItemID,
		PerformerID:   p.PerformerID,
		GrossAmount:   p.GrossAmount,
		NetAmount:     p.NetAmount,
		Discount:      p.Discount(),
		CouponID:      p.CouponID,
		LedgerEntryID: p.LedgerEntryID,
		Replayed:      replayed,
		CreatedAt:     p.CreatedAt,
	}
}
