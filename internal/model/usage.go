package model

import "time"

// UsageEvent is one successful redemption, kept for audit only.
type UsageEvent struct {
	ID        string    `db:"id"         json:"id"`
	TokenID   string    `db:"token_id"   json:"tokenId"`
	UserID    string    `db:"user_id"    json:"userId"`
	IPAddress string    `db:"ip_address" json:"ipAddress"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
