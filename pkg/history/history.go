// Package history implements linear undo/redo over immutable snapshots.
//
// A History never inspects its snapshots beyond comparing them for equality,
// so it can wrap any value type. Callers must treat snapshots as immutable:
// mutate by building a new value and handing it to Set or Update.
package history

import "reflect"

// History holds the past, present and future snapshots of some state.
// It is not safe for concurrent use.
type History[T any] struct {
	past    []T
	present T
	future  []T
	limit   int
	equal   func(a, b T) bool
}

// Option configures a History.
type Option[T any] func(*History[T])

// WithLimit caps the number of undo steps retained. Older entries are dropped
// first. A limit <= 0 means unbounded.
func WithLimit[T any](n int) Option[T] {
	return func(h *History[T]) { h.limit = n }
}

// WithEqual replaces the structural equality check used to suppress no-op
// pushes. The default is reflect.DeepEqual.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(h *History[T]) {
		if eq != nil {
			h.equal = eq
		}
	}
}

// New creates a History whose present is initial.
func New[T any](initial T, opts ...Option[T]) *History[T] {
	h := &History[T]{
		present: initial,
		equal:   func(a, b T) bool { return reflect.DeepEqual(a, b) },
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Present returns the current snapshot.
func (h *History[T]) Present() T { return h.present }

// Past returns a copy of the undo stack, oldest first.
func (h *History[T]) Past() []T { return append([]T(nil), h.past...) }

// Future returns a copy of the redo stack, next-to-redo first.
func (h *History[T]) Future() []T { return append([]T(nil), h.future...) }

// CanUndo reports whether Undo would change the present.
func (h *History[T]) CanUndo() bool { return len(h.past) > 0 }

// CanRedo reports whether Redo would change the present.
func (h *History[T]) CanRedo() bool { return len(h.future) > 0 }

// Set makes next the present snapshot. It returns false, and records nothing,
// when next is equal to the current present. Any redo history is discarded.
func (h *History[T]) Set(next T) bool {
	if h.equal(h.present, next) {
		return false
	}
	h.past = append(h.past, h.present)
	if h.limit > 0 && len(h.past) > h.limit {
		h.past = h.past[len(h.past)-h.limit:]
	}
	h.present = next
	h.future = nil
	return true
}

// Update applies fn to the present snapshot and records the result via Set.
func (h *History[T]) Update(fn func(prev T) T) bool {
	return h.Set(fn(h.present))
}

// Undo moves the present onto the redo stack and restores the most recent
// past snapshot. It is a no-op when there is nothing to undo.
func (h *History[T]) Undo() bool {
	if len(h.past) == 0 {
		return false
	}
	last := len(h.past) - 1
	h.future = append([]T{h.present}, h.future...)
	h.present = h.past[last]
	h.past = h.past[:last]
	return true
}

// Redo is the inverse of Undo.
func (h *History[T]) Redo() bool {
	if len(h.future) == 0 {
		return false
	}
	h.past = append(h.past, h.present)
	h.present = h.future[0]
	h.future = h.future[1:]
	return true
}

// Reset discards all history and makes initial the present.
func (h *History[T]) Reset(initial T) {
	h.past = nil
	h.future = nil
	h.present = initial
}
