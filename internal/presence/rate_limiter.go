package presence

import (
	"sync"
	"time"
)

// idleWindows is how many windows a sender may stay silent before Cleanup
// drops its state
const idleWindows = 5

// RateLimiter caps how many messages a user may send per fixed window.
// State is kept per user, so all of a user's devices share one budget.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	senders map[string]*senderWindow
}

type senderWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit messages per window. A limit of zero or less
// disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		senders: make(map[string]*senderWindow),
	}
}

// Allow records one message for userID and reports whether it fits the budget
func (rl *RateLimiter) Allow(userID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.senders[userID]
	if !exists || now.Sub(w.start) >= rl.window {
		rl.senders[userID] = &senderWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the state of a user, e.g. once their last connection is gone
func (rl *RateLimiter) Forget(userID string) {
	rl.mu.Lock()
	delete(rl.senders, userID)
	rl.mu.Unlock()
}

// Cleanup removes senders idle for several windows and returns how many
// entries were dropped
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, w := range rl.senders {
		if now.Sub(w.start) > idleWindows*rl.window {
			delete(rl.senders, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked senders
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.senders)
}
