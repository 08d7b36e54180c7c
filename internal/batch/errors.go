package batch

import "errors"

var (
	// ErrConfig marks invalid scheduler, retry or delay parameters.
	ErrConfig = errors.New("batch: invalid configuration")
	// ErrRetryExhausted is wrapped into the terminal error of a job that failed every attempt.
	ErrRetryExhausted = errors.New("batch: retries exhausted")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. RetryPolicy stops at the first permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
