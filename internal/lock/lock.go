// Package lock provides per-order mutual exclusion for mutating operations.
// Acquisition never waits: a held key fails at once with LOCK_CONTENTION and
// the caller decides whether to retry.
package lock

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// Locker hands out exclusive leases on keys.
type Locker interface {
	// Acquire takes the lease for key or fails with LOCK_CONTENTION. The
	// returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryLocker is a keyed try-lock for a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty MemoryLocker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "lock acquisition cancelled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, errors.LockContention(key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently leased
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
