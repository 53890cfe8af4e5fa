package content

import (
	"sync"
	"time"
)

// Breaker is a consecutive-failure circuit breaker with cooldown:
//   - on success it resets failures and closes the circuit;
//   - on failure it counts and, once failures >= trip, opens the circuit for
//     a cooldown that doubles with every further failure up to maxDelay.
//
// A trip value below zero disables it.
type Breaker struct {
	mu sync.Mutex

	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	now        func() time.Time

	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func NewBreaker(trip int, baseDelay, maxDelay time.Duration) *Breaker {
	if trip == 0 {
		trip = 5
	}
	if baseDelay <= 0 {
		baseDelay = 30 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Minute
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Breaker{
		trip:       trip,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		resetAfter: 2 * maxDelay,
		now:        time.Now,
	}
}

// Allow reports whether a call may proceed. When it may not, the second
// value is the time the circuit closes again.
func (b *Breaker) Allow() (bool, time.Time) {
	if b == nil || b.trip < 0 {
		return true, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.maybeResetLocked(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return false, b.openUntil
	}
	return true, time.Time{}
}

func (b *Breaker) Record(err error) {
	if b == nil || b.trip < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.maybeResetLocked(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}

	b.fails++
	b.lastFailure = now
	if b.fails < b.trip {
		return
	}
	d := b.baseDelay
	for i := 0; i < b.fails-b.trip; i++ {
		d *= 2
		if d >= b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	b.openUntil = now.Add(d)
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails
}

// Opportunistic reset if the last failure was long ago.
func (b *Breaker) maybeResetLocked(now time.Time) {
	if !b.lastFailure.IsZero() && b.resetAfter > 0 && now.Sub(b.lastFailure) > b.resetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
	}
}
