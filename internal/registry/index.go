package registry

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

type set map[string]struct{}

// index is a sharded secondary index key -> set of connection IDs
type index struct {
	shards []*indexShard
	mask   uint64
}

type indexShard struct {
	mu   sync.RWMutex
	sets map[string]set
}

func newIndex(shardCount int) *index {
	ix := &index{
		shards: make([]*indexShard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range ix.shards {
		ix.shards[i] = &indexShard{sets: make(map[string]set)}
	}
	return ix
}

func (ix *index) shard(key string) *indexShard {
	return ix.shards[xxhash.Sum64String(key)&ix.mask]
}

func (ix *index) add(key, connectionID string) {
	s := ix.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[key]
	if !ok {
		members = make(set)
		s.sets[key] = members
	}
	members[connectionID] = struct{}{}
}

// remove drops connectionID and deletes the key once its set is empty
func (ix *index) remove(key, connectionID string) {
	s := ix.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[key]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(s.sets, key)
	}
}

// snapshot copies the set under the shard read lock and returns it sorted
func (ix *index) snapshot(key string) []string {
	s := ix.shard(key)
	s.mu.RLock()
	ids := lo.Keys(s.sets[key])
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (ix *index) count() int {
	total := 0
	for _, s := range ix.shards {
		s.mu.RLock()
		total += len(s.sets)
		s.mu.RUnlock()
	}
	return total
}
