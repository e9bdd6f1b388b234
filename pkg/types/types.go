package types

import (
	"time"

	"github.com/samber/lo"
)

// Outbound frame types written to clients by the transport layer
const (
	FrameWelcome = "welcome"
	FrameAck     = "ack"
	FrameMessage = "message"
	FrameHistory = "history"
)

// Connection is one live transport session as tracked by the registry.
// UserID never changes for the life of the entry; GroupID is empty when the
// connection is not in any room.
type Connection struct {
	ID      string `json:"connection_id"`
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id,omitempty"`
}

// InGroup reports whether the connection currently belongs to a room
func (c Connection) InGroup() bool {
	return c.GroupID != ""
}

// Room is the read-only room descriptor owned by the room store
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	Members   []string  `json:"members,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Admits reports whether userID may join the room. Public rooms admit any
// authenticated user, private rooms only their authorized members.
func (r *Room) Admits(userID string) bool {
	if !r.IsPrivate {
		return true
	}
	return lo.Contains(r.Members, userID)
}

// Message is a chat message addressed either to a room or to a single user.
// Exactly one of RoomID and ToUser is set.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id,omitempty"`
	ToUser    string    `json:"to_user,omitempty"`
	FromUser  string    `json:"from_user"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPrivate reports whether the message targets a single user
func (m *Message) IsPrivate() bool {
	return m.ToUser != ""
}

// Target returns the room or user id the message is addressed to
func (m *Message) Target() string {
	if m.IsPrivate() {
		return m.ToUser
	}
	return m.RoomID
}

// User is an entry in the user directory consulted by the query identity resolver
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
