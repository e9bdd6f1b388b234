package registry

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// DefaultShards is used when NewRegistry is given a non-positive shard count
const DefaultShards = 32

// Registry maps connection IDs to their owning user and current group.
//
// The primary map is sharded by connection ID. Two secondary indexes (by user,
// by group) are sharded by their own keys. Every mutation of a connection
// holds that connection's shard lock while it updates the indexes, so writes
// to one key are serialized and independent keys proceed in parallel. Lock
// order is always connection shard, then index shard.
type Registry struct {
	shards  []*shard
	mask    uint64
	byUser  *index
	byGroup *index
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	userID  string
	groupID string
}

// Stats is a point-in-time summary of registry contents
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Groups      int `json:"groups"`
}

// NewRegistry creates a registry with shardCount shards, rounded up to a
// power of two
func NewRegistry(shardCount int) *Registry {
	n := nextPowerOfTwo(shardCount)
	r := &Registry{
		shards:  make([]*shard, n),
		mask:    uint64(n - 1),
		byUser:  newIndex(n),
		byGroup: newIndex(n),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return r
}

func (r *Registry) shardFor(connectionID string) *shard {
	return r.shards[xxhash.Sum64String(connectionID)&r.mask]
}

// Register admits a new connection with no group. It fails with
// ErrDuplicateConnection if the ID is already present.
func (r *Registry) Register(connectionID, userID string) error {
	if connectionID == "" {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, ErrEmptyConnectionID)
	}
	if userID == "" {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, ErrEmptyUserID)
	}

	s := r.shardFor(connectionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[connectionID]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateConnection, connectionID)
	}
	s.entries[connectionID] = entry{userID: userID}
	r.byUser.add(userID, connectionID)
	return nil
}

// Unregister removes the connection and returns the removed record.
// Removing an absent connection is a no-op.
func (r *Registry) Unregister(connectionID string) (types.Connection, bool) {
	s := r.shardFor(connectionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[connectionID]
	if !exists {
		return types.Connection{}, false
	}
	delete(s.entries, connectionID)
	r.byUser.remove(e.userID, connectionID)
	if e.groupID != "" {
		r.byGroup.remove(e.groupID, connectionID)
	}
	return types.Connection{ID: connectionID, UserID: e.userID, GroupID: e.groupID}, true
}

// SetGroup moves the connection into groupID, or out of any group when
// groupID is empty, and returns the previous group. The connection is removed
// from the old group's index before it is added to the new one, so it is
// never visible in two groups at once.
func (r *Registry) SetGroup(connectionID, groupID string) (string, error) {
	s := r.shardFor(connectionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[connectionID]
	if !exists {
		return "", fmt.Errorf("%w: %s", interfaces.ErrUnknownConnection, connectionID)
	}

	previous := e.groupID
	if previous == groupID {
		return previous, nil
	}
	if previous != "" {
		r.byGroup.remove(previous, connectionID)
	}
	if groupID != "" {
		r.byGroup.add(groupID, connectionID)
	}
	e.groupID = groupID
	s.entries[connectionID] = e
	return previous, nil
}

// Get returns the connection record; the bool is false when it is not registered
func (r *Registry) Get(connectionID string) (types.Connection, bool) {
	s := r.shardFor(connectionID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[connectionID]
	if !exists {
		return types.Connection{}, false
	}
	return types.Connection{ID: connectionID, UserID: e.userID, GroupID: e.groupID}, true
}

// FindByUser returns a sorted snapshot of the user's connection IDs
func (r *Registry) FindByUser(userID string) []string {
	if userID == "" {
		return nil
	}
	return r.byUser.snapshot(userID)
}

// FindByGroup returns a sorted snapshot of the connection IDs in a group,
// taken atomically with respect to concurrent joins and leaves
func (r *Registry) FindByGroup(groupID string) []string {
	if groupID == "" {
		return nil
	}
	return r.byGroup.snapshot(groupID)
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() Stats {
	connections := 0
	for _, s := range r.shards {
		s.mu.RLock()
		connections += len(s.entries)
		s.mu.RUnlock()
	}
	return Stats{
		Connections: connections,
		Users:       r.byUser.count(),
		Groups:      r.byGroup.count(),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return DefaultShards
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
