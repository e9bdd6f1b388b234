package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Registry is the part of the connection registry the manager mutates
type Registry interface {
	Get(connectionID string) (types.Connection, bool)
	SetGroup(connectionID, groupID string) (string, error)
}

// RoomRefresher is implemented by room stores that may answer from a cache.
// A cached denial is re-read before a join is refused.
type RoomRefresher interface {
	RefreshRoom(ctx context.Context, roomID string) (*types.Room, error)
}

// Manager validates and performs room joins and leaves. It is the only
// component that changes a connection's group.
type Manager struct {
	registry Registry
	rooms    interfaces.RoomStore
	log      *slog.Logger
}

// Membership is the state of a connection after a join or leave
type Membership struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	RoomID       string `json:"room_id,omitempty"`
	// PreviousRoomID is the room the connection left as part of the operation
	PreviousRoomID string `json:"previous_room_id,omitempty"`
}

// NewManager creates a membership manager backed by the registry and room store
func NewManager(registry Registry, rooms interfaces.RoomStore, log *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		rooms:    rooms,
		log:      log,
	}
}

// Join moves the connection into roomID, leaving its current room if any.
// All checks run before the registry is touched, so a rejected join never
// changes the connection's group.
func (m *Manager) Join(ctx context.Context, connectionID, roomID string) (Membership, error) {
	if !types.IsValidID(roomID) {
		return Membership{}, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, types.ErrInvalidRoomID)
	}

	conn, exists := m.registry.Get(connectionID)
	if !exists {
		return Membership{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownConnection, connectionID)
	}

	room, err := m.loadRoom(ctx, roomID, m.rooms.GetRoom)
	if err != nil {
		return Membership{}, err
	}
	if refresher, ok := m.rooms.(RoomRefresher); ok && !room.Admits(conn.UserID) {
		if room, err = m.loadRoom(ctx, roomID, refresher.RefreshRoom); err != nil {
			return Membership{}, err
		}
	}

	if !room.Admits(conn.UserID) {
		m.log.Info("Join rejected",
			"connection_id", connectionID, "user_id", conn.UserID, "room_id", roomID,
			"code", interfaces.CodeForbidden)
		return Membership{}, fmt.Errorf("%w: user %s is not a member of private room %s",
			interfaces.ErrForbidden, conn.UserID, roomID)
	}

	// The connection may have disconnected since Get; SetGroup reports that
	// as an unknown connection.
	previous, err := m.registry.SetGroup(connectionID, roomID)
	if err != nil {
		return Membership{}, err
	}
	if previous == roomID {
		previous = ""
	}

	m.log.Debug("Joined room",
		"connection_id", connectionID, "user_id", conn.UserID, "room_id", roomID,
		"previous_room_id", previous)

	return Membership{
		ConnectionID:   connectionID,
		UserID:         conn.UserID,
		RoomID:         roomID,
		PreviousRoomID: previous,
	}, nil
}

func (m *Manager) loadRoom(ctx context.Context, roomID string,
	get func(context.Context, string) (*types.Room, error)) (*types.Room, error) {
	room, err := get(ctx, roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrRoomNotFound, roomID)
		}
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if room == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRoomNotFound, roomID)
	}
	return room, nil
}

// Leave removes the connection from its room. Leaving with no room is a
// successful no-op.
func (m *Manager) Leave(connectionID string) (Membership, error) {
	conn, exists := m.registry.Get(connectionID)
	if !exists {
		return Membership{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownConnection, connectionID)
	}

	previous, err := m.registry.SetGroup(connectionID, "")
	if err != nil {
		return Membership{}, err
	}

	if previous != "" {
		m.log.Debug("Left room", "connection_id", connectionID, "user_id", conn.UserID, "room_id", previous)
	}

	return Membership{
		ConnectionID:   connectionID,
		UserID:         conn.UserID,
		PreviousRoomID: previous,
	}, nil
}
