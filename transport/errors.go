package transport

import (
	"errors"
	"fmt"
)

// ErrEmptyToken is returned by token providers that resolve to nothing
var ErrEmptyToken = errors.New("empty auth token")

// ConnectionError describes a failed or lost connection. Op is one of
// "token", "dial" or "read".
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
