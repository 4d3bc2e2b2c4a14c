package models

import "time"

// ThreadSummary describes a conversation by its most recent message.
type ThreadSummary struct {
	Phone    string    `json:"phone"`
	Name     *string   `json:"name"`
	Last     time.Time `json:"last"`
	LastBody string    `json:"lastBody"`
}
