package kde

import (
	"errors"
	"fmt"
)

// Sentinel errors. Errors caused by the caller's data or parameters wrap
// exactly one of them, so callers can branch with errors.Is.
var (
	// ErrInvalidInput reports unusable data: empty point sets, ragged rows,
	// non-finite coordinates or mismatched dimensionality.
	ErrInvalidInput = errors.New("kde: invalid input")

	// ErrConfiguration reports an invalid parameter: non-positive bandwidth
	// or leaf size, negative tolerance, unknown kernel, mode or criterion.
	ErrConfiguration = errors.New("kde: configuration error")

	// ErrVerification is returned in verification mode when the dual-tree
	// result disagrees with the naive evaluator beyond the requested error.
	ErrVerification = errors.New("kde: verification failed")
)

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}
