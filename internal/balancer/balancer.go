// Package balancer holds the HTTP clients for the two downstream key
// distribution services. Both clients are batch-oriented: they take the
// whole pending queue and either land every key or fail the batch.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is a classified delivery failure. Reason is a short stable code
// recorded in the delivery journal alongside each key.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Reason extracts the stable failure code from a delivery error. A nil
// error reads as "ok".
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return "exception"
}

// classifyTransport wraps raw HTTP transport failures with a stable reason.
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Reason: "timeout", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: "timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Reason: "canceled", Err: err}
	}
	return &Error{Reason: "connection_error", Err: err}
}
