package dispatch

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks by callers.
	ErrTransport     = errors.New("backend: host unreachable or transport failure")
	ErrStatus        = errors.New("backend: non-2xx status")
	ErrBadResponse   = errors.New("backend: invalid response format or malformed data")
	ErrInvalidAction = errors.New("backend: invalid action")
)

// Error wraps one of the sentinel errors with request context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // lower-level cause, e.g. *url.Error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return 0
}
