package storion

import (
	"errors"
	"fmt"
)

var (
	// ErrSetupPhase is returned when a setup-only operation (Get, Create,
	// FocusOn, Mixin) runs after setup has completed.
	ErrSetupPhase = errors.New("storion: operation is only allowed during setup")
	// ErrLifetimeMismatch is returned when a keepAlive store depends on or
	// creates an autoDispose store.
	ErrLifetimeMismatch = errors.New("storion: keepAlive store cannot depend on autoDispose store")
	// ErrDisposed is returned when an action runs on a disposed instance.
	ErrDisposed = errors.New("storion: instance is disposed")
	// ErrInvalidAction is returned when setup returns an action that is not callable.
	ErrInvalidAction = errors.New("storion: action is not callable")
	// ErrNoTrackingContext is raised when a tracking-only primitive runs
	// outside an active tracking context.
	ErrNoTrackingContext = errors.New("storion: no active tracking context")
	// ErrUnknownField is returned for state keys that are not part of the spec.
	ErrUnknownField = errors.New("storion: unknown state field")
	// ErrInvalidPath is returned for focus paths that cannot be navigated.
	ErrInvalidPath = errors.New("storion: invalid focus path")
	// ErrLossyConversion is returned when a number does not fit the field
	// type, such as 5.7 or 1e20 hydrated into an int.
	ErrLossyConversion = errors.New("storion: number does not fit target type")
	// ErrCircularDependency is returned when a factory resolves itself.
	ErrCircularDependency = errors.New("storion: circular dependency")
)

// ResolveError wraps a failure raised while invoking a factory
type ResolveError struct {
	Factory string
	Kind    Kind
	Cause   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s %s: %v", e.Kind, e.Factory, e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// ActionError wraps a failure raised by, or a refusal to run, an action
type ActionError struct {
	Store  string
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s.%s: %v", e.Store, e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// PanicError carries a value recovered from a panic in user code
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SafeTypeAssertion performs safe type assertion with proper error
func SafeTypeAssertion[T any](value any) (T, error) {
	if value == nil {
		var zero T
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("type assertion error: expected %T, got %T (value: %v)", zero, value, value)
	}

	return typed, nil
}
