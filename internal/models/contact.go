package models

import "time"

// Contact holds the display name shared by every message of a phone.
type Contact struct {
	Phone     string    `json:"phone"`
	Name      *string   `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}
