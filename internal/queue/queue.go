package queue

import (
	"container/list"

	mapset "github.com/deckarep/golang-set/v2"
)

// Deque is an ordered collection of unique values that can be inserted at
// either end and is drained from the front.
//
// Deque is not safe for concurrent use; owners guard it with their own lock so
// that queue mutations and related state change together.
type Deque[T comparable] struct {
	items   *list.List
	members mapset.Set[T]
}

// NewDeque creates an empty deque
func NewDeque[T comparable]() *Deque[T] {
	return &Deque[T]{
		items:   list.New(),
		members: mapset.NewThreadUnsafeSet[T](),
	}
}

// Len returns the number of queued values
func (d *Deque[T]) Len() int {
	return d.items.Len()
}

// Contains reports whether value is queued
func (d *Deque[T]) Contains(value T) bool {
	return d.members.Contains(value)
}

// PushBack appends value unless it is already queued.
// Returns true if the value was added.
func (d *Deque[T]) PushBack(value T) bool {
	if !d.members.Add(value) {
		return false
	}
	d.items.PushBack(value)
	return true
}

// PushFront prepends value unless it is already queued.
// An already queued value keeps its position.
// Returns true if the value was added.
func (d *Deque[T]) PushFront(value T) bool {
	if !d.members.Add(value) {
		return false
	}
	d.items.PushFront(value)
	return true
}

// PopFront removes and returns the front-most value
func (d *Deque[T]) PopFront() (T, bool) {
	front := d.items.Front()
	if front == nil {
		var zero T
		return zero, false
	}

	value := d.items.Remove(front).(T)
	d.members.Remove(value)
	return value, true
}
