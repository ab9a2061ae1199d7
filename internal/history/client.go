// Package history talks to the persisted-history API: the room list and
// message backlog fetched before realtime events augment them, and the
// mirror write the app performs after a successful realtime send.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/courierchat/internal/model"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxElapsed = 30 * time.Second
)

type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxElapsed time.Duration
}

func NewClient(baseURL, token string) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 60 * time.Second,
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		http:       &http.Client{Transport: tr, Timeout: defaultTimeout},
		maxElapsed: defaultMaxElapsed,
	}
}

type roomsResponse struct {
	Rooms []model.RoomWithLastMessage `json:"rooms"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

// Rooms returns the caller's conversation list with last messages.
func (c *Client) Rooms(ctx context.Context) ([]model.RoomWithLastMessage, error) {
	var out roomsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// EnsureRoom creates the room if it does not exist yet. Idempotent.
func (c *Client) EnsureRoom(ctx context.Context, room model.Room) error {
	return c.doJSON(ctx, http.MethodPost, "/rooms", room, nil)
}

// Messages returns the room backlog in ascending creation order.
func (c *Client) Messages(ctx context.Context, roomID string) ([]model.Message, error) {
	var out messagesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/rooms/"+roomID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SaveMessage persists a message the realtime channel already delivered.
// Idempotent by message id on the server side.
func (c *Client) SaveMessage(ctx context.Context, m model.Message) error {
	return c.doJSON(ctx, http.MethodPost, "/rooms/"+m.RoomID+"/messages", m, nil)
}

// Login obtains a bearer token from the history service's dev token
// endpoint. Production deployments issue tokens from the marketplace
// backend instead.
func Login(ctx context.Context, baseURL, userID, name string, role model.Role) (string, error) {
	body, err := json.Marshal(map[string]string{
		"user_id": userID,
		"name":    name,
		"role":    string(role),
	})
	if err != nil {
		return "", fmt.Errorf("history: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("history: login failed: %s", string(raw))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("history: decode login: %w", err)
	}
	return out.Token, nil
}

// doJSON runs one request with exponential backoff. Transport errors and 5xx
// are retried; 4xx is permanent.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("history: encode request: %w", err)
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("history: %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("history: %s %s: status %d", method, path, resp.StatusCode))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("history: decode response: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
