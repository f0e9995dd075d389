package relay

import "errors"

// Errors returned by the public API. Check with errors.Is.
var (
	// ErrInvalidConfig is returned by New when configuration validation
	// fails.
	ErrInvalidConfig = errors.New("logrelay: invalid configuration")
)
