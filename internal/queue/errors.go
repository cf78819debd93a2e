package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrEnqueue enqueue failed because the store is unreachable.
	// Producers treat this as a transient infrastructure fault and must
	// unwind side effects taken before the enqueue (stock locks).
	ErrEnqueue = errors.New("failed to enqueue message")

	// ErrUnknownJobType message type is outside the closed set
	ErrUnknownJobType = errors.New("unknown job type")
)

// permanentError marks a handler error as non-retryable. Retrying a
// malformed payload cannot succeed, so the worker dead-letters it
// immediately instead of burning the retry budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps an error so the worker dead-letters without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error is marked permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
