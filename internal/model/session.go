package model

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

// Session identifies the logged-in user. Owned by the auth layer; the chat
// core only reads it.
type Session struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}
