// Package store defines the message-history store behind the history API.
// Implementations: postgres.Client (production), redis.Client, memory.Client
// (for -dev and tests).
package store

import (
	"context"
	"errors"

	"github.com/courierchat/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// MessageStore persists rooms and their message backlog. SaveMessage is
// idempotent by message id: realtime redelivery and client retries must not
// duplicate history.
type MessageStore interface {
	EnsureRoom(ctx context.Context, room model.Room) error
	Room(ctx context.Context, roomID string) (model.Room, error)
	UserRooms(ctx context.Context, userID string) ([]model.RoomWithLastMessage, error)
	SaveMessage(ctx context.Context, m model.Message) error
	RoomMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	Close() error
}
