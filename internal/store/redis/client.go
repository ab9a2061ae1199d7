package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/courierchat/internal/model"
	"github.com/courierchat/internal/store"
	"github.com/redis/go-redis/v9"
)

// Keys:
//
//	chat:room:{id}            room JSON
//	chat:user:{id}:rooms      set of room ids
//	chat:room:{id}:messages   hash message id -> message JSON
//	chat:room:{id}:order      zset message id scored by created_at millis
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func roomKey(roomID string) string      { return "chat:room:" + roomID }
func userRoomsKey(userID string) string { return "chat:user:" + userID + ":rooms" }
func messagesKey(roomID string) string  { return "chat:room:" + roomID + ":messages" }
func orderKey(roomID string) string     { return "chat:room:" + roomID + ":order" }

func (c *Client) EnsureRoom(ctx context.Context, room model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis encode room: %w", err)
	}
	created, err := c.cli.SetNX(ctx, roomKey(room.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis ensure room: %w", err)
	}
	if !created {
		return nil
	}
	for _, m := range room.Members {
		if err := c.cli.SAdd(ctx, userRoomsKey(m.ID), room.ID).Err(); err != nil {
			return fmt.Errorf("redis index room member: %w", err)
		}
	}
	return nil
}

func (c *Client) Room(ctx context.Context, roomID string) (model.Room, error) {
	data, err := c.cli.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Room{}, store.ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("redis get room: %w", err)
	}
	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return model.Room{}, fmt.Errorf("redis decode room: %w", err)
	}
	return room, nil
}

func (c *Client) UserRooms(ctx context.Context, userID string) ([]model.RoomWithLastMessage, error) {
	ids, err := c.cli.SMembers(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis user rooms: %w", err)
	}
	out := make([]model.RoomWithLastMessage, 0, len(ids))
	for _, roomID := range ids {
		room, err := c.Room(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		item := model.RoomWithLastMessage{Room: room}
		lastIDs, err := c.cli.ZRevRange(ctx, orderKey(roomID), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("redis last message id: %w", err)
		}
		if len(lastIDs) == 1 {
			raw, err := c.cli.HGet(ctx, messagesKey(roomID), lastIDs[0]).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("redis last message: %w", err)
			}
			if err == nil {
				var m model.Message
				if err := json.Unmarshal(raw, &m); err != nil {
					return nil, fmt.Errorf("redis decode message: %w", err)
				}
				item.LastMessage = &m
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) SaveMessage(ctx context.Context, m model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis encode message: %w", err)
	}
	// HSetNX keeps the write idempotent by id; the order zset is only
	// touched on first insert.
	added, err := c.cli.HSetNX(ctx, messagesKey(m.RoomID), m.ID, data).Result()
	if err != nil {
		return fmt.Errorf("redis save message: %w", err)
	}
	if !added {
		return nil
	}
	z := redis.Z{Score: float64(m.CreatedAt.UnixMilli()), Member: m.ID}
	if err := c.cli.ZAdd(ctx, orderKey(m.RoomID), z).Err(); err != nil {
		return fmt.Errorf("redis index message: %w", err)
	}
	return nil
}

func (c *Client) RoomMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := c.cli.ZRange(ctx, orderKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis message order: %w", err)
	}
	if len(ids) == 0 {
		return []model.Message{}, nil
	}
	raw, err := c.cli.HMGet(ctx, messagesKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis messages: %w", err)
	}
	out := make([]model.Message, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m model.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("redis decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
