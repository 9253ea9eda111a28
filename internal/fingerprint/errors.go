package fingerprint

import "errors"

// Domain-specific errors for fingerprint extraction.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnavailable is returned when an observation yields neither a
	// stable nor an address fingerprint.
	ErrUnavailable = errors.New("fingerprint: no fingerprint derivable from observation")
)
