package admission

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Guard bounds the number of in-flight tasks of one class. TryAcquire is a
// single check-and-increment on a weighted semaphore.
type Guard struct {
	sem      *semaphore.Weighted
	ceiling  int64
	inFlight atomic.Int64
}

// NewGuard creates a guard with the given ceiling (minimum 1).
func NewGuard(ceiling int) *Guard {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Guard{
		sem:     semaphore.NewWeighted(int64(ceiling)),
		ceiling: int64(ceiling),
	}
}

// TryAcquire returns a slot when one is free, or nil when the ceiling is reached.
func (g *Guard) TryAcquire() *Slot {
	if !g.sem.TryAcquire(1) {
		return nil
	}
	g.inFlight.Add(1)
	return &Slot{guard: g}
}

// InFlight reports the number of held slots.
func (g *Guard) InFlight() int { return int(g.inFlight.Load()) }

// Ceiling returns the configured maximum.
func (g *Guard) Ceiling() int { return int(g.ceiling) }

// Slot is one admitted unit of a Guard. Release may be called any number of
// times from any goroutine; only the first call returns the slot.
type Slot struct {
	guard *Guard
	once  sync.Once
}

// Release returns the slot to its guard. Nil-safe.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.guard.inFlight.Add(-1)
		s.guard.sem.Release(1)
	})
}
