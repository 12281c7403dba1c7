package models

import "time"

// Account is the cached balance of one wallet. The authoritative history is the
// ledger_entries table; balance must always equal the sum of its entries.
type Account struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Currency  string    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
