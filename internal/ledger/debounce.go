package ledger

import (
	"sync"
	"time"
)

// debouncer owns a single shared timer that fires fn after a quiet period.
// Reset re-arms the timer; Stop cancels any pending fire. Both are safe to
// call after Stop, so teardown is deterministic.
type debouncer struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func newDebouncer(d time.Duration, fn func()) *debouncer {
	return &debouncer{d: d, fn: fn}
}

// Reset (re)arms the timer for one full quiet period from now.
func (b *debouncer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.d, b.fn)
}

// Cancel drops a pending fire without disabling the debouncer.
func (b *debouncer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Stop cancels any pending fire and disables further resets.
func (b *debouncer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
