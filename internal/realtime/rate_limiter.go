package realtime

import (
	"sync"
	"time"

	"github.com/kotkoti/voiceroom/internal/core"
)

// IntentLimiter bounds how often each intent type may be sent, so a stuck
// button or a misbehaving embedder cannot flood the channel with seat
// requests.
type IntentLimiter struct {
	mu       sync.Mutex
	history  map[core.IntentType][]time.Time
	limit    int
	interval time.Duration
}

func NewIntentLimiter(limit int, interval time.Duration) *IntentLimiter {
	return &IntentLimiter{
		history:  make(map[core.IntentType][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *IntentLimiter) Allow(t core.IntentType) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[t]

	fresh := make([]time.Time, 0, len(attempts))
	for _, at := range attempts {
		if at.After(windowStart) {
			fresh = append(fresh, at)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[t] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[t] = fresh
	return true
}
