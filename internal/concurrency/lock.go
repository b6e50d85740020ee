package concurrency

import (
	"context"
	"sync"
)

// Lock is a mutual-exclusion lock whose holders can be awaited.
//
// Unlike sync.Mutex, a Lock supports waiting for release without acquiring
// it, and acquisition that gives up when a context is cancelled. There is no
// fairness guarantee between waiters. The zero value is an unlocked Lock.
type Lock struct {
	mu       sync.Mutex
	held     bool
	released chan struct{}
}

// Lock acquires the lock, blocking until it is free.
func (l *Lock) Lock() {
	_ = l.LockContext(context.Background())
}

// LockContext acquires the lock or returns ctx.Err() if ctx is done first.
func (l *Lock) LockContext(ctx context.Context) error {
	for {
		l.mu.Lock()
		if !l.held {
			l.held = true
			l.released = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		ch := l.released
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	l.released = make(chan struct{})
	return true
}

// Unlock releases the lock and wakes every waiter.
// It panics if the lock is not held.
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("concurrency: unlock of unlocked Lock")
	}
	l.held = false
	close(l.released)
}

// WaitForUnlock blocks until the lock is not held. It does not acquire it.
func (l *Lock) WaitForUnlock() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	ch := l.released
	l.mu.Unlock()
	<-ch
}

// IsLocked reports whether the lock is currently held.
func (l *Lock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// WithLock runs fn while holding the lock and returns its error.
// The lock is released even if fn panics.
func (l *Lock) WithLock(fn func() error) error {
	l.Lock()
	defer l.Unlock()
	return fn()
}
