package model

// Room is a 1:1 conversation between a customer and a driver.
type Room struct {
	ID        string       `json:"id"`
	Members   []UserPublic `json:"members"`
	CreatedAt string       `json:"created_at,omitempty"`
}

// RoomWithLastMessage is the room-list item returned by the history API.
type RoomWithLastMessage struct {
	Room        Room     `json:"room"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// OtherMember returns the participant that is not userID, if present.
func (r Room) OtherMember(userID string) (UserPublic, bool) {
	for _, m := range r.Members {
		if m.ID != userID {
			return m, true
		}
	}
	return UserPublic{}, false
}
