package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Breaker is a minimal circuit breaker for one upstream dependency.
// After failThreshold consecutive failures it opens for the cooldown
// window; any success closes it again.
type Breaker struct {
	mu            sync.Mutex
	name          string
	failThreshold int
	cooldown      time.Duration
	failures      int
	openUntil     time.Time
	now           func() time.Time
}

// Info is a snapshot of the breaker state for diagnostics endpoints.
type Info struct {
	Name      string    `json:"name"`
	Open      bool      `json:"open"`
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

func New(name string, failThreshold int, cooldown time.Duration) *Breaker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &Breaker{
		name:          name,
		failThreshold: failThreshold,
		cooldown:      cooldown,
		now:           time.Now,
	}
}

// IsOpen reports whether calls should be skipped right now. It only
// compares times and never mutates state, so the breaker closes by
// itself once the cooldown elapses.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// RecordFailure counts one failed call and opens the breaker when the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.failThreshold {
		b.openUntil = b.now().Add(b.cooldown)
		log.Warn().Str("breaker", b.name).Int("failures", b.failures).
			Time("open_until", b.openUntil).Msg("Circuit breaker opened")
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures >= b.failThreshold {
		log.Info().Str("breaker", b.name).Msg("Circuit breaker closed")
	}
	b.failures = 0
	b.openUntil = time.Time{}
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := b.now().Before(b.openUntil)
	info := Info{Name: b.name, Open: open, Failures: b.failures}
	if open {
		info.OpenUntil = b.openUntil
	}
	return info
}
