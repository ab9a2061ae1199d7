package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courierchat/internal/logger"
	"github.com/courierchat/internal/model"
	"github.com/courierchat/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// EnsureSchema creates the history tables if missing. Run once at startup.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL REFERENCES rooms(id),
			user_id TEXT NOT NULL,
			name    TEXT NOT NULL DEFAULT '',
			role    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL REFERENCES rooms(id),
			user_id    TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgStore.EnsureSchema: %w", err)
		}
	}
	return nil
}

func (c *Client) EnsureRoom(ctx context.Context, room model.Room) error {
	defer logger.DeferLogDuration("pgStore.EnsureRoom", time.Now())()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgStore.EnsureRoom begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, room.ID); err != nil {
		return fmt.Errorf("pgStore.EnsureRoom room: %w", err)
	}
	for _, m := range room.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, name, role) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (room_id, user_id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`,
			room.ID, m.ID, m.Name, m.Role); err != nil {
			return fmt.Errorf("pgStore.EnsureRoom member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (c *Client) Room(ctx context.Context, roomID string) (model.Room, error) {
	defer logger.DeferLogDuration("pgStore.Room", time.Now())()
	room := model.Room{ID: roomID}
	var createdAt time.Time
	err := c.pool.QueryRow(ctx, `SELECT created_at FROM rooms WHERE id = $1`, roomID).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Room{}, store.ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("pgStore.Room: %w", err)
	}
	room.CreatedAt = createdAt.UTC().Format(time.RFC3339)

	rows, err := c.pool.Query(ctx,
		`SELECT user_id, name, role FROM room_members WHERE room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return model.Room{}, fmt.Errorf("pgStore.Room members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.UserPublic
		if err := rows.Scan(&m.ID, &m.Name, &m.Role); err != nil {
			return model.Room{}, fmt.Errorf("pgStore.Room scan member: %w", err)
		}
		room.Members = append(room.Members, m)
	}
	if err := rows.Err(); err != nil {
		return model.Room{}, fmt.Errorf("pgStore.Room rows: %w", err)
	}
	return room, nil
}

func (c *Client) UserRooms(ctx context.Context, userID string) ([]model.RoomWithLastMessage, error) {
	defer logger.DeferLogDuration("pgStore.UserRooms", time.Now())()
	rows, err := c.pool.Query(ctx,
		`SELECT room_id FROM room_members WHERE user_id = $1 ORDER BY room_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("pgStore.UserRooms query: %w", err)
	}
	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pgStore.UserRooms scan: %w", err)
		}
		roomIDs = append(roomIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.UserRooms rows: %w", err)
	}

	out := make([]model.RoomWithLastMessage, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		room, err := c.Room(ctx, roomID)
		if err != nil {
			return nil, err
		}
		item := model.RoomWithLastMessage{Room: room}
		last, err := c.lastMessage(ctx, roomID)
		if err != nil {
			return nil, err
		}
		item.LastMessage = last
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) lastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	m := &model.Message{}
	err := c.pool.QueryRow(ctx,
		`SELECT id, room_id, user_id, body, created_at FROM messages
		 WHERE room_id = $1 ORDER BY created_at DESC LIMIT 1`, roomID,
	).Scan(&m.ID, &m.RoomID, &m.UserID, &m.Body, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgStore.lastMessage: %w", err)
	}
	return m, nil
}

func (c *Client) SaveMessage(ctx context.Context, m model.Message) error {
	defer logger.DeferLogDuration("pgStore.SaveMessage", time.Now())()
	// ON CONFLICT DO NOTHING keeps the write idempotent by id.
	_, err := c.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, user_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.RoomID, m.UserID, m.Body, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgStore.SaveMessage: %w", err)
	}
	return nil
}

func (c *Client) RoomMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("pgStore.RoomMessages", time.Now())()
	if limit <= 0 {
		limit = 200
	}
	rows, err := c.pool.Query(ctx,
		`SELECT id, room_id, user_id, body, created_at FROM (
			SELECT id, room_id, user_id, body, created_at FROM messages
			WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) latest ORDER BY created_at ASC`, roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgStore.RoomMessages query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgStore.RoomMessages scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.RoomMessages rows: %w", err)
	}
	return out, nil
}
