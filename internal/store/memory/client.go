package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/courierchat/internal/model"
	"github.com/courierchat/internal/store"
)

// Client keeps rooms and messages in process memory. Used by -dev runs and
// tests; data does not survive a restart.
type Client struct {
	mu       sync.RWMutex
	rooms    map[string]model.Room
	messages map[string][]model.Message
	seen     map[string]struct{}
}

func New() *Client {
	return &Client{
		rooms:    make(map[string]model.Room),
		messages: make(map[string][]model.Message),
		seen:     make(map[string]struct{}),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) EnsureRoom(ctx context.Context, room model.Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room.ID]; !ok {
		c.rooms[room.ID] = room
	}
	return nil
}

func (c *Client) Room(ctx context.Context, roomID string) (model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return model.Room{}, store.ErrNotFound
	}
	return room, nil
}

func (c *Client) UserRooms(ctx context.Context, userID string) ([]model.RoomWithLastMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.RoomWithLastMessage
	for _, room := range c.rooms {
		member := false
		for _, m := range room.Members {
			if m.ID == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		item := model.RoomWithLastMessage{Room: room}
		if msgs := c.messages[room.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			item.LastMessage = &last
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room.ID < out[j].Room.ID })
	return out, nil
}

func (c *Client) SaveMessage(ctx context.Context, m model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[m.ID]; dup {
		return nil
	}
	c.seen[m.ID] = struct{}{}
	msgs := append(c.messages[m.RoomID], m)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	c.messages[m.RoomID] = msgs
	return nil
}

func (c *Client) RoomMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
