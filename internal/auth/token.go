// Package auth mints and validates the bearer tokens the history API and the
// chat client share. The chat core reads the resulting Session; it never
// issues tokens itself.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/courierchat/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name,omitempty"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 token for a user.
func GenerateToken(secret []byte, userID, name string, role model.Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Name:   name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a token string.
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SessionFromToken decodes a token into the read-only Session the chat core
// consumes.
func SessionFromToken(secret []byte, tokenString string) (model.Session, error) {
	claims, err := ValidateToken(secret, tokenString)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
}

// SessionFromTokenUnverified decodes the claims without checking the
// signature. The client does not hold the signing secret; the history API
// verifies the token on every call, the client only needs to know who it is.
func SessionFromTokenUnverified(tokenString string) (model.Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return model.Session{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if claims.UserID == "" {
		return model.Session{}, ErrInvalidToken
	}
	return model.Session{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
}
