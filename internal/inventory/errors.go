// internal/inventory/errors.go
package inventory

import "errors"

var (
	ErrAlreadyExists       = errors.New("book already exists")
	ErrNotFound            = errors.New("book not found")
	ErrNoCopiesRemaining   = errors.New("no copies remaining to borrow")
	ErrInvalidBook         = errors.New("invalid book")
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrStoreUnavailable    = errors.New("book store unavailable")
)
