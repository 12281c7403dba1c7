package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	CouponDiscountPercentage = "percentage"
	CouponDiscountFixed      = "fixed"
)

const (
	CouponScopeGlobal    = "global"
	CouponScopePerformer = "performer"
	CouponScopeContent   = "content"
)

// Coupon is a discount rule redeemable against content purchases.
// Codes are matched case-insensitively and stored upper-case.
type Coupon struct {
	ID               string     `gorm:"primaryKey;type:char(36)" json:"id"`
	Code             string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_coupons_code" json:"code" validate:"required,min=2,max=64,alphanum"`
	DiscountType     string     `gorm:"type:varchar(16);not null" json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue    int64      `gorm:"not null" json:"discount_value" validate:"gt=0"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	UsageLimit       int64      `gorm:"not null;default:0" json:"usage_limit" validate:"gte=0"`
	UsedCount        int64      `gorm:"not null;default:0" json:"used_count"`
	Scope            string     `gorm:"type:varchar(16);not null;default:'global'" json:"scope" validate:"required,oneof=global performer content"`
	ScopePerformerID string     `gorm:"type:varchar(64);not null;default:''" json:"scope_performer_id,omitempty" validate:"required_if=Scope performer"`
	ScopeContentID   string     `gorm:"type:varchar(64);not null;default:''" json:"scope_content_id,omitempty" validate:"required_if=Scope content"`
	ScopeItemType    string     `gorm:"type:varchar(16);not null;default:''" json:"scope_item_type,omitempty" validate:"omitempty,oneof=photo video feed stream"`
	AllowFree        bool       `gorm:"not null;default:false" json:"allow_free"`
	Active           bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeCouponCode returns the canonical stored form of a coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) BeforeSave(tx *gorm.DB) error {
	c.Code = NormalizeCouponCode(c.Code)
	return nil
}

// CouponRedemption records one successful use of a coupon. It is written in
// the same transaction that increments Coupon.UsedCount.
type CouponRedemption struct {
	ID         string    `gorm:"primaryKey;type:char(36)" json:"id"`
	CouponID   string    `gorm:"type:char(36);not null;index" json:"coupon_id"`
	BuyerID    string    `gorm:"type:varchar(64);not null;index" json:"buyer_id"`
	PurchaseID string    `gorm:"type:char(36);not null;uniqueIndex" json:"purchase_id"`
	Discount   int64     `gorm:"not null" json:"discount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
