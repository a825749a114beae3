package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", ErrInvalidConfig)
	ErrUnknownBackend     = fmt.Errorf("unknown backend")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrAuthFailed       = fmt.Errorf("%w: authentication failed", ErrNotAuthenticated)
	ErrTokenExpired     = fmt.Errorf("%w: session expired", ErrNotAuthenticated)

	// Transport and decoding errors
	ErrNetwork            = fmt.Errorf("network request failed")
	ErrServiceUnavailable = fmt.Errorf("%w: service unavailable", ErrNetwork)
	ErrDecoding           = fmt.Errorf("unexpected response shape")

	// Resolution errors. A heuristic miss and a genuinely empty container are not distinguished.
	ErrEntityNotFound = fmt.Errorf("no songs found")
	ErrAmbiguousMatch = ErrEntityNotFound

	// Playback errors
	ErrCancelled    = fmt.Errorf("request cancelled")
	ErrNotPlayable  = fmt.Errorf("song has no stream")
	ErrInvalidState = fmt.Errorf("invalid playback state")
	ErrEmptyQueue   = fmt.Errorf("queue is empty")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// HTTPError is a non-2xx response from a backend. It matches [ErrNetwork] with [errors.Is].
type HTTPError struct {
	StatusCode int
	Backend    string
}

func (e *HTTPError) Error() string {
	text := http.StatusText(e.StatusCode)
	if e.Backend == "" {
		return fmt.Sprintf("http %d %s", e.StatusCode, text)
	}
	return fmt.Sprintf("%s: http %d %s", e.Backend, e.StatusCode, text)
}

func (e *HTTPError) Unwrap() error {
	return ErrNetwork
}

// NewHTTPError returns the error for a failed response, mapping 401 and 403 to [ErrNotAuthenticated].
func NewHTTPError(backend string, status int) error {
	herr := &HTTPError{StatusCode: status, Backend: backend}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, herr)
	}
	return herr
}

// UserMessage renders err as a short message for the person at the terminal.
//
// Authentication problems read differently from generic network failures.
func UserMessage(err error) string {
	var herr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEntityNotFound):
		return "No songs found."
	case errors.Is(err, ErrNotAuthenticated):
		return "Could not sign in to the music server. Check the username and password and try again."
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnknownBackend):
		return "This music source is not configured correctly: " + err.Error()
	case errors.As(err, &herr):
		return fmt.Sprintf("The music server returned an error (%d). Try again later.", herr.StatusCode)
	case errors.Is(err, ErrNetwork):
		return "Could not reach the music server. Check the connection and try again."
	case errors.Is(err, ErrNotPlayable):
		return "This song cannot be played."
	case errors.Is(err, ErrCancelled):
		return "Cancelled."
	default:
		return err.Error()
	}
}
