package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter(limit int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, time.Minute)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	req := require.New(t)
	rl, clock := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		req.True(rl.Allow("alice"))
	}
	req.False(rl.Allow("alice"))
	req.True(rl.Allow("bob"), "budgets are per user")

	clock.Advance(time.Minute)
	req.True(rl.Allow("alice"), "a new window resets the budget")
}

func TestRateLimiter_Disabled(t *testing.T) {
	req := require.New(t)
	rl, _ := newTestLimiter(0)
	for i := 0; i < 1000; i++ {
		req.True(rl.Allow("alice"))
	}
	req.Zero(rl.Len())
}

func TestRateLimiter_ForgetAndCleanup(t *testing.T) {
	req := require.New(t)
	rl, clock := newTestLimiter(1)

	req.True(rl.Allow("alice"))
	req.True(rl.Allow("bob"))
	req.Equal(2, rl.Len())

	rl.Forget("alice")
	req.Equal(1, rl.Len())
	req.True(rl.Allow("alice"))

	clock.Advance(3 * time.Minute)
	req.True(rl.Allow("alice"))
	req.Zero(rl.Cleanup())

	clock.Advance(3 * time.Minute)
	req.Equal(1, rl.Cleanup(), "bob has been idle for six windows")
	req.Equal(1, rl.Len())
}
