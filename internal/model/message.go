package model

import "time"

// Message is a single chat message. Identity is by ID: two messages with the
// same ID are the same logical message, which is what makes retry and
// at-least-once broker delivery safe to deduplicate.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
