package commerce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ExternalError is a failed call against the commerce backend. The
// saga's retry policy keys off Transient.
type ExternalError struct {
	Op        string // e.g. "create order"
	Status    int    // HTTP status, 0 for transport failures
	Transient bool
	Err       error
}

func (e *ExternalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("commerce: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("commerce: %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// IsTransient reports whether err might succeed on retry. Transport
// failures, timeouts, 408, 429 and 5xx are transient; other HTTP
// statuses are not. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ee *ExternalError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func transientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}
