package httpclient

import (
	"errors"
	"fmt"
)

// ErrReadTimeout is returned by a streamed body that stayed idle longer than the read timeout.
var ErrReadTimeout = errors.New("http: read timeout exceeded")

// StatusError is returned when the remote answered with a non-success status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.URL, e.StatusCode)
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError

	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
