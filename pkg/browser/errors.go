package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPresent means a DOM element was not found. It is a benign
	// outcome, never surfaced to callers as a failure.
	ErrNotPresent = errors.New("element not present")

	// ErrHandleClosed means the handle was already released.
	ErrHandleClosed = errors.New("browser handle closed")
)

// LaunchError wraps a failure to start the browser process or reach the
// entry page. Fatal for the attempt that hit it.
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed [%s]: %v", e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// NewLaunchError wraps err as a launch failure.
func NewLaunchError(op string, err error) *LaunchError {
	return &LaunchError{Op: op, Err: err}
}

// DriverError wraps a browser process that became unreachable mid-use.
// Recoverable: the same profile directory can back a fresh handle.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error [%s]: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError wraps err as a driver failure.
func NewDriverError(op string, err error) *DriverError {
	return &DriverError{Op: op, Err: err}
}

// IsNotPresent reports whether err folds into the benign missing-element
// outcome. Script evaluation failures count: a canvas that is found but
// not yet painted is indistinguishable from one that never rendered.
func IsNotPresent(err error) bool {
	return errors.Is(err, ErrNotPresent)
}

// IsLaunchError reports whether err is a launch failure.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}

// IsDriverError reports whether err means the browser process is
// unreachable and the handle should be disposed.
func IsDriverError(err error) bool {
	if errors.Is(err, ErrHandleClosed) {
		return true
	}
	var de *DriverError
	return errors.As(err, &de)
}
