package reflection

import (
	"errors"
)

var (
	// ErrDefinition is returned by Build for invalid or duplicate declarations.
	ErrDefinition = errors.New("reflection: invalid class definition")

	// ErrBuilderConsumed is returned when Build is called more than once.
	ErrBuilderConsumed = errors.New("reflection: builder already built")

	// ErrNoSuchClass indicates a canonical name with no constructible proxy.
	ErrNoSuchClass = errors.New("reflection: no such class")

	// ErrNoSuchMember indicates a member missing from the current definition.
	ErrNoSuchMember = errors.New("reflection: no such member")

	// ErrNotInstance is returned when a trampoline receiver carries no tag.
	ErrNotInstance = errors.New("reflection: receiver is not a proxy instance")

	// ErrNotCallable is returned when a listener is not a function.
	ErrNotCallable = errors.New("reflection: listener is not callable")

	// ErrListenerFailed wraps the failure of an event listener, which aborts
	// the dispatch.
	ErrListenerFailed = errors.New("reflection: event listener failed")

	// ErrWrongGoroutine is the panic value when the host is used from a
	// goroutine that does not own its runtime.
	ErrWrongGoroutine = errors.New("reflection: host used outside its owning goroutine")
)
