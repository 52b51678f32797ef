package interfaces

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClientOnlyRoute is returned when a party tries to send a route that only
	// report collectors originate.
	ErrClientOnlyRoute = errors.New("route is only sent by report collectors")
	ErrMissingQueryID  = errors.New("route requires a query id")
	ErrMissingGate     = errors.New("route requires a gate")
	ErrUnknownPeer     = errors.New("no client configured for peer")

	ErrDuplicateStream = errors.New("stream already registered")
	ErrStreamsCleared  = errors.New("stream registry cleared")
	ErrStreamTaken     = errors.New("stream already consumed")
	ErrStreamWithdrawn = errors.New("stream withdrawn by its sender")

	ErrQueryInProgress = errors.New("another query is in progress")
	ErrQueryNotFound   = errors.New("query not found")
)

// RoutingError is returned without any I/O when a route cannot be sent.
type RoutingError struct {
	Route RouteID
	Err   error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("cannot route %s: %v", e.Route, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// SendError wraps a failure of the peer client.
type SendError struct {
	Dest  string
	Route RouteID
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending %s to %s failed: %v", e.Route, e.Dest, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SerializationError is returned when a control-plane payload cannot be encoded or decoded.
type SerializationError struct {
	Route RouteID
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Route, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// RequestError carries the HTTP status a handler wants to respond with.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError formats a RequestError.
func NewRequestError(status int, format string, args ...any) *RequestError {
	return &RequestError{StatusCode: status, Err: fmt.Errorf(format, args...)}
}

// StatusCode maps an error to the HTTP status that best describes it.
func StatusCode(err error) int {
	var reqErr *RequestError
	var serErr *SerializationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.As(err, &serErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateStream), errors.Is(err, ErrQueryInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrStreamsCleared), errors.Is(err, ErrStreamWithdrawn):
		return http.StatusGone
	case errors.Is(err, ErrQueryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
