package resolver

import "errors"

var (
	// ErrNoStream means the page was fetched but no usable stream URL was found
	ErrNoStream = errors.New("no stream found")

	// ErrNetwork covers transport failures, timeouts and an open circuit breaker
	ErrNetwork = errors.New("network failure")
)
