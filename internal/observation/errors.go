package observation

import "errors"

// Domain-specific errors for observation decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformed is returned when a payload is not valid JSON or is
	// missing a required field (ts_ms, scanner_id).
	ErrMalformed = errors.New("observation: malformed observation")
)
