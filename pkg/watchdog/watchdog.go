// Package watchdog implements the named per-task liveness timers
// described below: each long-running task owns a watchdog with
// its own timeout, and a timeout fires a rate-limited cleanup rather
// than an immediate reboot storm.
package watchdog

import (
	"sync"
	"time"
)

// CleanupFunc performs the orderly NVS flush and board reboot described
// elsewhere. It is the external collaborator; this package only
// decides when to call it and enforces the rate limit.
type CleanupFunc func(taskName string)

// Watchdog supervises one named task. Kick must be called more often
// than Timeout or Expired will report true.
type Watchdog struct {
	name    string
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	deadline  time.Time
	lastFired time.Time
	minGap    time.Duration
}

// New creates a Watchdog for taskName with the given timeout. minGap
// rate-limits repeated cleanup invocations (the
// "rate-limited raise_cleanup"); a zero minGap disables rate limiting.
func New(taskName string, timeout, minGap time.Duration, now func() time.Time) *Watchdog {
	if now == nil {
		now = time.Now
	}
	w := &Watchdog{name: taskName, timeout: timeout, now: now, minGap: minGap}
	w.Kick()
	return w
}

// Kick resets the deadline. Tasks call this once per iteration.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadline = w.now().Add(w.timeout)
}

// Expired reports whether the deadline has passed.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().After(w.deadline)
}

// CheckAndCleanup calls cleanup if the watchdog has expired, respecting
// the rate limit so a persistently wedged task doesn't reboot in a tight
// loop. Returns true if cleanup was invoked.
func (w *Watchdog) CheckAndCleanup(cleanup CleanupFunc) bool {
	w.mu.Lock()
	now := w.now()
	if now.Before(w.deadline) {
		w.mu.Unlock()
		return false
	}
	if w.minGap > 0 && !w.lastFired.IsZero() && now.Sub(w.lastFired) < w.minGap {
		w.mu.Unlock()
		return false
	}
	w.lastFired = now
	name := w.name
	w.mu.Unlock()

	if cleanup != nil {
		cleanup(name)
	}
	return true
}

// Registry tracks a named watchdog per task, mirroring the
// "each long-running task owns a named watchdog."
type Registry struct {
	mu    sync.Mutex
	items map[string]*Watchdog
	now   func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{items: make(map[string]*Watchdog), now: now}
}

func (r *Registry) Register(taskName string, timeout, minGap time.Duration) *Watchdog {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := New(taskName, timeout, minGap, r.now)
	r.items[taskName] = w
	return w
}

// CheckAll runs CheckAndCleanup over every registered watchdog; used by
// the main runner's own top-level supervision loop.
func (r *Registry) CheckAll(cleanup CleanupFunc) {
	r.mu.Lock()
	items := make([]*Watchdog, 0, len(r.items))
	for _, w := range r.items {
		items = append(items, w)
	}
	r.mu.Unlock()

	for _, w := range items {
		w.CheckAndCleanup(cleanup)
	}
}
