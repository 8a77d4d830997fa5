// Package keylock provides in-process mutual exclusion keyed by string.
// Entries are reference counted and removed once no goroutine holds or waits for a key.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned when the context ends before the key is acquired.
var ErrNotAcquired = errors.New("keylock: lock not acquired")

type entry struct {
	sem  chan struct{}
	refs int
}

// Locker serializes work per key. The zero value is not usable; use New.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
// The returned unlock function is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireRef(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseRef(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) acquireRef(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) releaseRef(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
