package kegsync

import "sync"

// Guard is the process-wide critical section. Every read-modify-write
// against the batch, pallet and retry stores runs inside Do so that worker
// goroutines and the retry scheduler never interleave partial updates.
// Network calls must happen outside of it.
type Guard struct {
	mu sync.Mutex
}

// NewGuard returns an unlocked Guard.
func NewGuard() *Guard { return &Guard{} }

// Do runs fn while holding the lock.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
