package model

import "time"

// Tier is a purchasable plan. Duration is in days; 0 means tokens never expire.
type Tier struct {
	ID          string    `db:"id"          json:"id"`
	Name        string    `db:"name"        json:"name"`
	Description string    `db:"description" json:"description"`
	Price       int64     `db:"price"       json:"price"`
	Requests    int       `db:"requests"    json:"requests"`
	Duration    int       `db:"duration"    json:"duration"`
	Popular     bool      `db:"popular"     json:"popular"`
	Active      bool      `db:"active"      json:"active"`
	CreatedAt   time.Time `db:"created_at"  json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updatedAt"`
}
