package interaction

import (
	"context"
	"sync"
)

// Future is a single-resolution placeholder for an answer delivered later.
// Exactly one of Resolve or Cancel takes effect; every subsequent call is a
// no-op returning false.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	value     any
	cancelled bool
	resolved  bool
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve delivers the value and wakes all waiters. Returns false if the
// future was already resolved or cancelled.
func (f *Future) Resolve(value any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return false
	}
	f.resolved = true
	f.value = value
	close(f.done)
	return true
}

// Cancel resolves the future with a cancellation signal, distinct from a
// value resolution. Returns false if the future was already resolved.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return false
	}
	f.resolved = true
	f.cancelled = true
	close(f.done)
	return true
}

// Done returns a channel closed when the future resolves or is cancelled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has resolved or been cancelled.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Wait blocks until the future resolves, the future is cancelled, or the
// context is done. A cancelled future yields ErrQuestionCancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return nil, ErrQuestionCancelled
	}
	return f.value, nil
}
