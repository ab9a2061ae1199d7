// Package handler implements the history API: room listing, room creation
// and the message backlog behind the realtime channel.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/courierchat/internal/auth"
	"github.com/courierchat/internal/logger"
	"github.com/courierchat/internal/middleware"
	"github.com/courierchat/internal/model"
	"github.com/courierchat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

type HistoryHandler struct {
	store     store.MessageStore
	jwtSecret []byte
}

func NewHistoryHandler(s store.MessageStore, jwtSecret []byte) *HistoryHandler {
	return &HistoryHandler{store: s, jwtSecret: jwtSecret}
}

// IssueToken mints a bearer token for a user. This stands in for the
// marketplace backend's session endpoint; production deployments disable it
// and issue tokens upstream.
func (h *HistoryHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string     `json:"user_id"`
		Name   string     `json:"name"`
		Role   model.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Role != model.RoleCustomer && req.Role != model.RoleDriver {
		writeError(w, http.StatusBadRequest, "role must be customer or driver")
		return
	}
	token, err := auth.GenerateToken(h.jwtSecret, req.UserID, req.Name, req.Role, tokenTTL)
	if err != nil {
		logger.Errorf("issue token for %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListRooms returns the caller's rooms with their last messages.
func (h *HistoryHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	rooms, err := h.store.UserRooms(r.Context(), session.UserID)
	if err != nil {
		logger.Errorf("list rooms for %s: %v", session.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []model.RoomWithLastMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// CreateRoom creates the room if it does not exist. The caller must be one
// of its members.
func (h *HistoryHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	var room model.Room
	if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if room.ID == "" || len(room.Members) == 0 {
		writeError(w, http.StatusBadRequest, "room id and members are required")
		return
	}
	if _, ok := memberOf(room.Members, session.UserID); !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	if room.CreatedAt == "" {
		room.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := h.store.EnsureRoom(r.Context(), room); err != nil {
		logger.Errorf("create room %s: %v", room.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMessages returns the room backlog in ascending creation order.
func (h *HistoryHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	session := middleware.GetSession(r.Context())

	if !h.requireMember(w, r, roomID, session.UserID) {
		return
	}

	limit := queryInt(r, "limit", 200)
	if limit > 500 {
		limit = 500
	}
	messages, err := h.store.RoomMessages(r.Context(), roomID, limit)
	if err != nil {
		logger.Errorf("list messages for %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// SaveMessage persists a message the realtime channel delivered. Sender is
// forced to the authenticated user; the write is idempotent by message id,
// so client retries are safe.
func (h *HistoryHandler) SaveMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	session := middleware.GetSession(r.Context())

	if !h.requireMember(w, r, roomID, session.UserID) {
		return
	}

	var m model.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	m.RoomID = roomID
	m.UserID = session.UserID
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := h.store.SaveMessage(r.Context(), m); err != nil {
		logger.Errorf("save message %s in %s: %v", m.ID, roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": m.ID})
}

func (h *HistoryHandler) requireMember(w http.ResponseWriter, r *http.Request, roomID, userID string) bool {
	room, err := h.store.Room(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return false
	}
	if err != nil {
		logger.Errorf("load room %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return false
	}
	if _, ok := memberOf(room.Members, userID); !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return false
	}
	return true
}

func memberOf(members []model.UserPublic, userID string) (model.UserPublic, bool) {
	for _, m := range members {
		if m.ID == userID {
			return m, true
		}
	}
	return model.UserPublic{}, false
}
