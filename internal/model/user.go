package model

// UserPublic is the peer-visible slice of a user: what a conversation screen
// shows about the other participant.
type UserPublic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
