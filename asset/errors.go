package asset

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceLoad reports that a reference could not be resolved or
	// decoded. Every error returned by Pool.Load matches it.
	ErrResourceLoad = errors.New("asset: resource load failed")

	// ErrNotFound reports an unknown identifier.
	ErrNotFound = errors.New("asset: resource not found")

	// ErrInvalidImpulse reports malformed impulse data.
	ErrInvalidImpulse = errors.New("asset: invalid impulse response")
)

// LoadError describes a failed load of one reference.
type LoadError struct {
	Ref Reference
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("asset: load %s: %v", e.Ref, e.Err)
}

// Unwrap exposes both ErrResourceLoad and the underlying cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrResourceLoad, e.Err}
}

func loadError(ref Reference, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return &LoadError{Ref: ref, Err: err}
}
