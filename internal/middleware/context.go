package middleware

import (
	"context"

	"github.com/courierchat/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

// GetSession returns the authenticated session from the request context
// (set by BearerAuth). The zero Session means the request was not authed.
func GetSession(ctx context.Context) model.Session {
	s, _ := ctx.Value(sessionKey).(model.Session)
	return s
}

// WithSession puts a session into the context. Exported for handler tests.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}
