package taskqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by submissions made after shutdown began.
	ErrQueueClosed = errors.New("taskqueue: queue is closed")

	// ErrNotWorker indicates worker-only functionality was used from another goroutine.
	ErrNotWorker = errors.New("taskqueue: not called from the worker goroutine")

	// ErrReentrantCall is returned when the worker attempts to wait on itself.
	ErrReentrantCall = errors.New("taskqueue: cannot wait on the queue from within the worker")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("taskqueue: task must not be nil")

	// ErrGoexit is returned by [Call] when the task exited via runtime.Goexit.
	ErrGoexit = errors.New("taskqueue: task exited via runtime.Goexit")

	// ErrNotSettled is returned by [Settle] when the task returned without
	// settling.
	ErrNotSettled = errors.New("taskqueue: task returned without a result")
)

// PanicError wraps the value recovered from a panicking task.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("taskqueue: task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
