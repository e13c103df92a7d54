package flexgate

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyProcess   = errors.New("flexgate: process is required")
	ErrNilClient      = errors.New("flexgate: nil client")
	ErrDecodeResponse = errors.New("flexgate: decode response")
)

// StatusError reports a non-2xx HTTP status. The response body is not kept.
type StatusError struct {
	Process    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flexgate: %s: HTTP error! status: %d", e.Process, e.StatusCode)
}
