package remote

import (
	"errors"
	"fmt"
)

// LogicalError is a business-level rejection from the server: the request
// reached it and it answered with an error body.
type LogicalError struct {
	Status  int
	Message string
}

func (e *LogicalError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// TransportError covers everything that kept a usable answer from
// arriving: network failures, timeouts, 5xx pages and unreadable bodies.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerMessage returns the message the server supplied, if err carries one.
func ServerMessage(err error) (string, bool) {
	var logical *LogicalError
	if errors.As(err, &logical) && logical.Message != "" {
		return logical.Message, true
	}
	return "", false
}
