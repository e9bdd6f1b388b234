package websocket

import (
	"context"
	"fmt"
	"sync"

	"roomcast/pkg/interfaces"
)

// Sockets maps connection ids to live sockets and is the transport send
// primitive used by the broadcast router
type Sockets struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewSockets creates an empty socket table
func NewSockets() *Sockets {
	return &Sockets{conns: make(map[string]*Connection)}
}

// Add stores conn under its id
func (s *Sockets) Add(conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conns[conn.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSocket, conn.ID())
	}
	s.conns[conn.ID()] = conn
	return nil
}

// Remove drops the socket with id, if any
func (s *Sockets) Remove(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// Get returns the socket with id
func (s *Sockets) Get(id string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Len returns the number of live sockets
func (s *Sockets) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Send implements interfaces.Transport
func (s *Sockets) Send(ctx context.Context, connectionID string, payload []byte) error {
	conn, ok := s.Get(connectionID)
	if !ok {
		return fmt.Errorf("%w: no socket for %s", interfaces.ErrConnectionClosed, connectionID)
	}
	return conn.Send(ctx, payload)
}

// CloseAll closes every socket; their read loops then clean up
func (s *Sockets) CloseAll() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
