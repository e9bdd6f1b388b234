//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../../internal/mocks/mock_store.go -package=mocks
package interfaces

import (
	"context"

	"roomcast/pkg/types"
)

// RoomStore is the read-only view of the external room store
type RoomStore interface {
	// GetRoom returns the room descriptor including its authorized members,
	// or ErrRoomNotFound
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
}

// LiveRoomStore is a RoomStore that can confirm a room still exists
// without loading its members
type LiveRoomStore interface {
	RoomStore
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// MessageStore durably records chat messages
type MessageStore interface {
	// Persist stores the message and returns the assigned message ID.
	// A message is addressed to a room (RoomID) or a single user (ToUser).
	Persist(ctx context.Context, message *types.Message) (string, error)
}

// HistoryReader returns recent messages in chronological order
type HistoryReader interface {
	RoomHistory(ctx context.Context, roomID string, limit int) ([]*types.Message, error)
	// UserHistory returns the private messages addressed to userID
	UserHistory(ctx context.Context, userID string, limit int) ([]*types.Message, error)
}

// UserDirectory answers whether a user ID exists
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}
