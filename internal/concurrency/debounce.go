package concurrency

import (
	"sync"
	"time"
)

// Debouncer delays calls to fn until delay has elapsed without another call.
// Only the last argument of a burst is delivered. Each Debouncer is
// independent; calls to fn are serialized.
type Debouncer[T any] struct {
	fn    func(T)
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	arg     T
	pending bool
	stopped bool

	// runMu serializes invocations of fn.
	runMu sync.Mutex
}

// NewDebouncer creates a debouncer around fn.
// A non-positive delay is replaced with 50ms.
func NewDebouncer[T any](fn func(T), delay time.Duration) *Debouncer[T] {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Debouncer[T]{fn: fn, delay: delay}
}

// Call schedules fn(arg), replacing any pending argument and restarting the
// delay window. Calls after Stop are ignored.
func (d *Debouncer[T]) Call(arg T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.arg = arg
	d.pending = true

	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

// fire runs the pending invocation, if any.
func (d *Debouncer[T]) fire() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	arg, ok := d.take()
	if !ok {
		return
	}
	d.fn(arg)
}

// take claims the pending argument.
func (d *Debouncer[T]) take() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	if !d.pending || d.stopped {
		return zero, false
	}
	arg := d.arg
	d.arg = zero
	d.pending = false
	return arg, true
}

// Flush cancels the timer and runs the pending invocation synchronously.
// It reports whether an invocation ran.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.runMu.Lock()
	defer d.runMu.Unlock()

	arg, ok := d.take()
	if !ok {
		return false
	}
	d.fn(arg)
	return true
}

// Pending reports whether an invocation is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop discards any pending invocation and ignores future calls.
// An invocation already running is not interrupted.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Trigger is a Debouncer for functions that take no arguments.
type Trigger struct {
	d *Debouncer[struct{}]
}

// NewTrigger creates a zero-argument debouncer around fn.
func NewTrigger(fn func(), delay time.Duration) *Trigger {
	return &Trigger{d: NewDebouncer(func(struct{}) { fn() }, delay)}
}

// Call schedules fn.
func (t *Trigger) Call() { t.d.Call(struct{}{}) }

// Flush runs a pending invocation synchronously.
func (t *Trigger) Flush() bool { return t.d.Flush() }

// Pending reports whether an invocation is scheduled.
func (t *Trigger) Pending() bool { return t.d.Pending() }

// Stop discards any pending invocation and ignores future calls.
func (t *Trigger) Stop() { t.d.Stop() }
