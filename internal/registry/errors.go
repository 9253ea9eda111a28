package registry

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device lookup finds no match.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrWriteFailure is returned when a registry write does not complete.
	// The observation that triggered the write should be dropped, not
	// retried into a half-written state.
	ErrWriteFailure = errors.New("registry: write failure")

	// ErrInvalidDevice is returned when a device record is missing
	// required fields.
	ErrInvalidDevice = errors.New("registry: invalid device")

	// ErrInvalidAlias is returned when an alias is empty or unusable.
	ErrInvalidAlias = errors.New("registry: invalid alias")
)
