package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// CachedRoomStore keeps room descriptors in a TTL cache in front of a room
// store. Lookups that fail, including not-found, are never cached, and every
// hit is checked against the store so a deleted room is never served.
// Member lists may lag by up to the TTL; RefreshRoom bypasses the cache.
// Cached rooms are shared between callers and must not be modified.
type CachedRoomStore struct {
	store interfaces.LiveRoomStore
	cache *ristretto.Cache[string, *types.Room]
	ttl   time.Duration
}

// NewCachedRoomStore wraps store with a cache holding up to maxRooms
// descriptors for ttl each
func NewCachedRoomStore(store interfaces.LiveRoomStore, ttl time.Duration, maxRooms int64) (*CachedRoomStore, error) {
	if store == nil {
		return nil, ErrNilRoomStore
	}
	if maxRooms <= 0 {
		return nil, ErrInvalidCacheSize
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *types.Room]{
		NumCounters:        maxRooms * 10,
		MaxCost:            maxRooms,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &CachedRoomStore{store: store, cache: cache, ttl: ttl}, nil
}

// GetRoom implements interfaces.RoomStore
func (c *CachedRoomStore) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	if room, ok := c.cache.Get(roomID); ok {
		exists, err := c.store.RoomExists(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !exists {
			c.cache.Del(roomID)
			return nil, fmt.Errorf("%w: %s", interfaces.ErrRoomNotFound, roomID)
		}
		return room, nil
	}
	return c.load(ctx, roomID)
}

// RefreshRoom drops any cached descriptor of roomID and reloads it from the store
func (c *CachedRoomStore) RefreshRoom(ctx context.Context, roomID string) (*types.Room, error) {
	c.cache.Del(roomID)
	return c.load(ctx, roomID)
}

func (c *CachedRoomStore) load(ctx context.Context, roomID string) (*types.Room, error) {
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room != nil {
		c.cache.SetWithTTL(roomID, room, 1, c.ttl)
	}
	return room, nil
}

// Invalidate drops a cached descriptor, e.g. after its member list changed
func (c *CachedRoomStore) Invalidate(roomID string) {
	c.cache.Del(roomID)
}

// Close stops the cache's background goroutines
func (c *CachedRoomStore) Close() {
	c.cache.Close()
}
