package models

import "time"

// Purchase is the ownership and receipt record of a completed purchase, tip
// or top-up. IdempotencyKey matches the key of the buyer's ledger entry.
type Purchase struct {
	ID             string    `gorm:"primaryKey;type:char(36)" json:"id"`
	BuyerID        string    `gorm:"type:varchar(64);not null;index:idx_purchases_buyer_item,priority:1" json:"buyer_id"`
	ItemType       string    `gorm:"type:varchar(16);not null;index:idx_purchases_buyer_item,priority:2" json:"item_type"`
	ItemID         string    `gorm:"type:varchar(64);not null;index:idx_purchases_buyer_item,priority:3" json:"item_id"`
	PerformerID    string    `gorm:"type:varchar(64);not null;default:'';index" json:"performer_id,omitempty"`
	GrossAmount    int64     `gorm:"not null" json:"gross_amount"`
	NetAmount      int64     `gorm:"not null" json:"net_amount"`
	CouponID       string    `gorm:"type:varchar(36);not null;default:''" json:"coupon_id,omitempty"`
	LedgerEntryID  string    `gorm:"type:varchar(36);not null;default:''" json:"ledger_entry_id,omitempty"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_purchases_idempotency_key" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Discount is the amount the buyer saved through a coupon.
func (p *Purchase) Discount() int64 {
	return p.GrossAmount - p.NetAmount
}

const (
	GatewayChargePending   = "pending"
	GatewayChargeSucceeded = "succeeded"
	GatewayChargeFailed    = "failed"
	GatewayChargeRefunding = "refunding"
	GatewayChargeRefunded  = "refunded"
)

// GatewayCharge tracks one external charge attempt so that a late callback
// from the gateway can be confirmed against the original top-up request.
type GatewayCharge struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_gateway_charges_idempotency_key" json:"idempotency_key"`
	AccountID      string    `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	ExternalTxID   string    `gorm:"type:varchar(191);not null;default:'';index" json:"external_tx_id,omitempty"`
	Status         string    `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	FailureReason  string    `gorm:"type:varchar(255);not null;default:''" json:"failure_reason,omitempty"`
	// RefundAttempts numbers the ledger keys of refund debits so a refund
	// that failed at the gateway can be tried again.
	RefundAttempts int       `gorm:"not null;default:0" json:"refund_attempts"`
	RefundEntryID  string    `gorm:"type:varchar(36);not null;default:''" json:"refund_entry_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
