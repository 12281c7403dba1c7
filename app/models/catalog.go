package models

import "time"

const (
	ItemTypePhoto  = "photo"
	ItemTypeVideo  = "video"
	ItemTypeFeed   = "feed"
	ItemTypeStream = "stream"
	ItemTypeTip    = "tip"
	ItemTypeTopUp  = "topup"
)

// IsContentItemType reports whether itemType is priced from the catalog.
func IsContentItemType(itemType string) bool {
	switch itemType {
	case ItemTypePhoto, ItemTypeVideo, ItemTypeFeed, ItemTypeStream:
		return true
	}
	return false
}

// Content is the minimal projection of a purchasable catalog item.
// Stream tickets carry the room they grant access to.
type Content struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Kind        string    `gorm:"type:varchar(16);not null;index" json:"kind"`
	PerformerID string    `gorm:"type:varchar(64);not null;index" json:"performer_id"`
	Price       int64     `gorm:"not null" json:"price"`
	RoomID      string    `gorm:"type:varchar(64);not null;default:'';index" json:"room_id,omitempty"`
	Title       string    `gorm:"type:varchar(255);not null;default:''" json:"title"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Room is a live-media room owned by a performer.
type Room struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PerformerID string    `gorm:"type:varchar(64);not null;index" json:"performer_id"`
	IsPublic    bool      `gorm:"not null;default:false" json:"is_public"`
	Title       string    `gorm:"type:varchar(255);not null;default:''" json:"title"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PerformerPlan holds a performer's subscription prices. A zero price means
// the plan is not offered.
type PerformerPlan struct {
	PerformerID  string    `gorm:"primaryKey;type:varchar(64)" json:"performer_id"`
	MonthlyPrice int64     `gorm:"not null;default:0" json:"monthly_price"`
	YearlyPrice  int64     `gorm:"not null;default:0" json:"yearly_price"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceFor returns the price of the given plan, or 0 if it is not offered.
func (p *PerformerPlan) PriceFor(plan string) int64 {
	switch plan {
	case SubscriptionPlanMonthly:
		return p.MonthlyPrice
	case SubscriptionPlanYearly:
		return p.YearlyPrice
	}
	return 0
}
