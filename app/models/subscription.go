package models

import "time"

const (
	SubscriptionPlanMonthly = "monthly"
	SubscriptionPlanYearly  = "yearly"
)

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpiring  = "expiring"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is a subscriber's recurring access to one performer.
// Rows are never hard-deleted; expired and cancelled are terminal.
type Subscription struct {
	ID                      string     `gorm:"primaryKey;type:char(36)" json:"id"`
	SubscriberID            string     `gorm:"type:varchar(64);not null;index:idx_subscriptions_pair,priority:1" json:"subscriber_id"`
	PerformerID             string     `gorm:"type:varchar(64);not null;index:idx_subscriptions_pair,priority:2" json:"performer_id"`
	Plan                    string     `gorm:"type:varchar(16);not null" json:"plan"`
	Status                  string     `gorm:"type:varchar(16);not null;index" json:"status"`
	Price                   int64      `gorm:"not null" json:"price"`
	CurrentPeriodStart      time.Time  `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd        time.Time  `gorm:"not null;index" json:"current_period_end"`
	NextChargeAt            *time.Time `gorm:"index" json:"next_charge_at,omitempty"`
	LastChargeLedgerEntryID string     `gorm:"type:varchar(36);not null;default:'';index" json:"last_charge_ledger_entry_id,omitempty"`
	CancelledAt             *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt               *time.Time `json:"expired_at,omitempty"`
	FailureReason           string     `gorm:"type:varchar(255);not null;default:''" json:"failure_reason,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the subscription can no longer change state.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusExpired || s.Status == SubscriptionStatusCancelled
}

// IsValidSubscriptionPlan reports whether plan is a known billing period.
func IsValidSubscriptionPlan(plan string) bool {
	return plan == SubscriptionPlanMonthly || plan == SubscriptionPlanYearly
}
