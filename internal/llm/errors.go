// Package llm holds the clients for the two answer backends (the hosted RAG
// service and a self-hosted Ollama model) and the availability cache that
// keeps the local model from being probed on every request.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable wraps transport failures: refused connections, DNS
	// errors and timeouts.
	ErrUnavailable = errors.New("llm: backend unavailable")

	// ErrMalformed means the backend answered 200 with a body we can't use.
	ErrMalformed = errors.New("llm: malformed response")
)

// StatusError is returned when a backend answers with a non-200 status.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: %s returned HTTP %d: %s", e.Backend, e.Code, e.Body)
}

// Reason classifies an error for metrics labels.
func Reason(err error) string {
	var se *StatusError
	var ne net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, backend, err)
}

func malformed(backend, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, backend, detail)
}
