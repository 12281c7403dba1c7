package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	LedgerKindPurchase           = "purchase"
	LedgerKindTip                = "tip"
	LedgerKindSubscriptionCharge = "subscription_charge"
	LedgerKindPayout             = "payout"
	LedgerKindRefund             = "refund"
	LedgerKindAdjustment         = "adjustment"
	LedgerKindEarning            = "earning"
	LedgerKindTopUp              = "topup"
)

// ErrLedgerEntryImmutable is returned when code tries to modify a posted entry.
var ErrLedgerEntryImmutable = errors.New("ledger entries are append-only")

// LedgerEntry is a single signed balance movement. Entries are written once and
// never updated or deleted; corrections are new entries pointing at the original
// through ReversalOf.
type LedgerEntry struct {
	ID              string    `gorm:"primaryKey;type:char(36)" json:"id"`
	AccountID       string    `gorm:"type:varchar(64);not null;index:idx_ledger_entries_account_created,priority:1" json:"account_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Kind            string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	IdempotencyKey  string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_ledger_entries_idempotency_key" json:"idempotency_key"`
	RelatedEntityID string    `gorm:"type:varchar(191);not null;default:''" json:"related_entity_id"`
	ReversalOf      *string   `gorm:"type:char(36);index" json:"reversal_of,omitempty"`
	BalanceAfter    int64     `gorm:"not null" json:"balance_after"`
	CreatedAt       time.Time `gorm:"not null;index:idx_ledger_entries_account_created,priority:2" json:"created_at"`
}

// IsDebit reports whether the entry reduced the account balance.
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount < 0
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrLedgerEntryImmutable
}

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrLedgerEntryImmutable
}

// IsValidLedgerKind reports whether kind is one of the known entry kinds.
func IsValidLedgerKind(kind string) bool {
	switch kind {
	case LedgerKindPurchase, LedgerKindTip, LedgerKindSubscriptionCharge, LedgerKindPayout,
		LedgerKindRefund, LedgerKindAdjustment, LedgerKindEarning, LedgerKindTopUp:
		return true
	}
	return false
}
