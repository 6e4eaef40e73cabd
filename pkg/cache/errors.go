package cache

import "fmt"

// Error reports a failed cache operation. It is never fatal to a request.
type Error struct {
	// Op is the operation: lookup, store, or invalidate.
	Op string

	// Key is the cache key involved.
	Key string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
