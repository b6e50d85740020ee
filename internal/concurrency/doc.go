// Package concurrency provides the small synchronization primitives shared by
// the project engine: a mutual-exclusion Lock that callers can also wait on
// without acquiring, and a trailing-edge Debouncer.
//
// # Lock
//
// Lock serializes critical sections such as manifest reconciliation:
//
//	var l concurrency.Lock
//	err := l.WithLock(func() error {
//	    return reconcile()
//	})
//
// WaitForUnlock blocks until the lock is free without taking it.
//
// # Debouncer
//
// Debouncer collapses bursts of calls into one trailing invocation that
// receives the most recent argument:
//
//	d := concurrency.NewDebouncer(func(path string) { rescan(path) }, 50*time.Millisecond)
//	d.Call("/a")
//	d.Call("/b") // only rescan("/b") runs, 50ms after this call
//
// Invocations of the wrapped function never overlap.
package concurrency
