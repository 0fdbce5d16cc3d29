// Package lock provides in-process advisory locks keyed by conversation,
// serializing concurrent webhook deliveries for the same contact+connection.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned when the lock could not be acquired before the
// context deadline. The delivery should be surfaced as a transient failure
// so the upstream broker retries.
var ErrTimeout = errors.New("lock acquisition timed out")

// Key builds the advisory lock key for one conversation.
func Key(contactID, connectionID string) string {
	return contactID + "|" + connectionID
}

// Registry hands out one mutual-exclusion slot per key. Entries are removed
// once no goroutine holds or waits on them.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// Acquire blocks until the key's lock is held or ctx expires. On success it
// returns a release function; the caller must invoke it exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				r.unref(key, e)
			})
		}, nil
	case <-ctx.Done():
		r.unref(key, e)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (r *Registry) unref(key string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
	r.mu.Unlock()
}
