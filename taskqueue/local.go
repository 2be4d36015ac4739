package taskqueue

// Local is a value confined to the worker goroutine of a [Queue], the
// equivalent of thread-local storage scoped to the worker's lifetime.
//
// The value is constructed by init on the first [Local.Get] from the worker.
// Every method panics with [ErrNotWorker] when called from any other
// goroutine, so no locking is needed.
type Local[T any] struct {
	q     *Queue
	init  func() T
	value T
	ok    bool
}

// NewLocal returns a Local bound to q. It panics if q or init is nil.
func NewLocal[T any](q *Queue, init func() T) *Local[T] {
	if q == nil {
		panic("taskqueue: queue must not be nil")
	}
	if init == nil {
		panic("taskqueue: init must not be nil")
	}
	return &Local[T]{q: q, init: init}
}

// Get returns the value, constructing it on first use.
func (l *Local[T]) Get() T {
	l.q.mustBeWorker()
	if !l.ok {
		l.value = l.init()
		l.ok = true
	}
	return l.value
}

// Peek returns the value without constructing it.
func (l *Local[T]) Peek() (T, bool) {
	l.q.mustBeWorker()
	return l.value, l.ok
}

// Clear drops the value, returning it if it had been constructed. A later
// Get constructs a fresh value.
func (l *Local[T]) Clear() (T, bool) {
	l.q.mustBeWorker()
	v, ok := l.value, l.ok
	var zero T
	l.value, l.ok = zero, false
	return v, ok
}
