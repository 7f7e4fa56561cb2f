package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidated is returned by a client when the server answered a
	// GetNext with an InvalidateResponse. It is cleared by Reset.
	ErrInvalidated = errors.New("protocol: invalidated")

	// ErrTerminated is returned by a client after Terminate.
	ErrTerminated = errors.New("protocol: terminated")
)

// ProtocolError is returned when a server answers with a response that does
// not match the request.
type ProtocolError struct {
	Endpoint string
	Request  Request
	Response Response
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s: unexpected %s response to %s request",
		e.Endpoint, kindOf(e.Response), kindOf(e.Request))
}

// RemoteError wraps an error raised by a server's stage.
type RemoteError struct {
	Endpoint string
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %s: %v", e.Endpoint, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func kindOf(m interface{ Kind() string }) string {
	if m == nil {
		return "nil"
	}
	return m.Kind()
}
