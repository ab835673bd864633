package immutable

import "sync/atomic"

// Atom publishes an immutable value through a single atomic pointer.
//
// Readers call Load and traverse the snapshot they got back; they never
// block and never observe a partially applied update. Writers go through
// Swap, which recomputes the new value from the latest snapshot until its
// compare-and-swap succeeds.
type Atom[T any] struct {
	p atomic.Pointer[T]
}

// NewAtom creates an Atom holding v.
func NewAtom[T any](v T) *Atom[T] {
	a := &Atom[T]{}
	a.p.Store(&v)
	return a
}

// Load returns the current snapshot. A zero Atom yields the zero value.
func (a *Atom[T]) Load() T {
	if p := a.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Store unconditionally publishes v.
func (a *Atom[T]) Store(v T) { a.p.Store(&v) }

// Swap applies fn to the latest snapshot and publishes its result. fn must be
// free of side effects because it may run several times under contention;
// returning false aborts the update and leaves the current value in place.
// Swap reports the value that is current when it returns and whether fn's
// result was published.
func (a *Atom[T]) Swap(fn func(old T) (T, bool)) (T, bool) {
	for {
		oldPtr := a.p.Load()
		var old T
		if oldPtr != nil {
			old = *oldPtr
		}
		next, ok := fn(old)
		if !ok {
			return old, false
		}
		if a.p.CompareAndSwap(oldPtr, &next) {
			return next, true
		}
	}
}
