package notify

import (
	"errors"
	"fmt"
	"net"
)

// PermanentError indicates a delivery failure that will not succeed on
// retry, such as a rejected webhook or an invalid recipient.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("notify error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("notify error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary delivery failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("notify error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("notify error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

type retryable interface {
	IsRetryable() bool
}

// IsRetryable determines if a delivery error is worth retrying. Senders
// classify their own errors; network timeouts and connection failures
// are retryable by default.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
