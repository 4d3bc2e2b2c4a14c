package models

import "time"

// Direction tells whether a message left or reached the archive owner.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionSent || d == DirectionReceived
}

// Message is one archived text. Name is read from the phone's contact row.
type Message struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      *string   `json:"name"`
	Body      string    `json:"body"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}
