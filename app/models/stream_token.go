package models

import "time"

const (
	StreamModePublish = "publish"
	StreamModePlay    = "play"
)

// StreamToken is the audit record of an issued stream access token. The ID
// equals the token's jti claim; the signed token itself is never stored.
type StreamToken struct {
	ID             string    `gorm:"primaryKey;type:char(36)" json:"id"`
	RoomID         string    `gorm:"type:varchar(64);not null;index" json:"room_id"`
	SubjectID      string    `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	Mode           string    `gorm:"type:varchar(16);not null" json:"mode"`
	ContentID      string    `gorm:"type:varchar(64);not null;default:''" json:"content_id,omitempty"`
	SubscriptionID string    `gorm:"type:varchar(36);not null;default:''" json:"subscription_id,omitempty"`
	PurchaseID     string    `gorm:"type:varchar(36);not null;default:''" json:"purchase_id,omitempty"`
	IssuedAt       time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time `gorm:"not null;index" json:"expires_at"`
}

// TokenRevocation marks a token as revoked until it would have expired anyway.
type TokenRevocation struct {
	TokenID   string    `gorm:"primaryKey;type:char(36)" json:"token_id"`
	RevokedAt time.Time `gorm:"not null" json:"revoked_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// IsValidStreamMode reports whether mode is publish or play.
func IsValidStreamMode(mode string) bool {
	return mode == StreamModePublish || mode == StreamModePlay
}
