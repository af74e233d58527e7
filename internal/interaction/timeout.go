package interaction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timeoutEntry tracks one scheduled callback.
type timeoutEntry struct {
	id        string
	delay     time.Duration
	createdAt time.Time
	timer     *time.Timer
}

// TimeoutManager schedules a cancellable delayed callback per key. Each key
// may hold at most one live timer; entries self-clean when the callback
// fires or is cancelled.
type TimeoutManager struct {
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[string]*timeoutEntry
	shutdown bool

	// inflight tracks callbacks that have started firing so Shutdown can
	// wait for them to drain.
	inflight sync.WaitGroup
}

// NewTimeoutManager creates a timeout manager.
func NewTimeoutManager(logger *slog.Logger) *TimeoutManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutManager{
		logger:  logger,
		entries: make(map[string]*timeoutEntry),
	}
}

// Set schedules callback to fire once after delay, keyed by id. Ids must be
// unique among live timers; a collision fails only this call.
func (m *TimeoutManager) Set(id string, delay time.Duration, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return fmt.Errorf("set timeout %q: %w", id, ErrShutdown)
	}
	if _, exists := m.entries[id]; exists {
		return fmt.Errorf("set timeout %q: %w", id, ErrDuplicateTimeout)
	}

	entry := &timeoutEntry{
		id:        id,
		delay:     delay,
		createdAt: time.Now(),
	}
	entry.timer = time.AfterFunc(delay, func() {
		m.fire(id, callback)
	})
	m.entries[id] = entry

	m.logger.Debug("timeout scheduled", "timeout_id", id, "delay", delay)
	return nil
}

// fire runs the callback for id unless the entry was cancelled first.
func (m *TimeoutManager) fire(id string, callback func()) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	if _, ok := m.entries[id]; !ok {
		// Cancelled before the callback acquired the registry.
		m.mu.Unlock()
		return
	}
	delete(m.entries, id)
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("timeout callback panic", "timeout_id", id, "panic", r)
		}
	}()

	m.logger.Debug("timeout fired", "timeout_id", id)
	callback()
}

// Cancel stops the timer for id before it fires. Returns whether anything
// was cancelled. If the callback has already started, cancellation has no
// effect on it and Cancel reports false.
func (m *TimeoutManager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return false
	}
	if !entry.timer.Stop() {
		// Timer already fired; the callback owns cleanup.
		return false
	}
	delete(m.entries, id)
	m.logger.Debug("timeout cancelled", "timeout_id", id)
	return true
}

// Has reports whether a timer is scheduled for id.
func (m *TimeoutManager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Remaining returns the wall-clock budget left for id. The second return
// is false if no such timer is scheduled.
func (m *TimeoutManager) Remaining(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return 0, false
	}
	remaining := entry.delay - time.Since(entry.createdAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ActiveCount returns the number of live timers.
func (m *TimeoutManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CancelAll cancels every live timer.
func (m *TimeoutManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAllLocked()
}

func (m *TimeoutManager) cancelAllLocked() {
	for id, entry := range m.entries {
		entry.timer.Stop()
		delete(m.entries, id)
	}
}

// Summary returns a diagnostic snapshot.
func (m *TimeoutManager) Summary() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return map[string]any{
		"active_timeouts": len(m.entries),
		"timeout_ids":     ids,
		"running":         !m.shutdown,
	}
}

// Shutdown cancels all outstanding timers and waits for in-flight callback
// executions to finish. Callback panics are logged, not propagated.
func (m *TimeoutManager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.cancelAllLocked()
	m.mu.Unlock()

	m.inflight.Wait()
	m.logger.Debug("timeout manager shut down")
}
