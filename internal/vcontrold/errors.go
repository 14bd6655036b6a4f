package vcontrold

import (
	"errors"
	"fmt"
)

// Domain errors for the vcontrold package.
var (
	// ErrConnectionFailed is returned when no TCP session to the daemon
	// could be established, or an established one failed mid-exchange.
	ErrConnectionFailed = errors.New("vcontrold: connection to daemon failed")

	// ErrProtocol is returned when the daemon answers with its error
	// sentinel. The session is torn down before this is returned.
	ErrProtocol = errors.New("vcontrold: daemon reported an error")

	// ErrFrameDesync is returned when every attempt produced an empty
	// response body.
	ErrFrameDesync = errors.New("vcontrold: no response before prompt")

	// ErrDecode is returned when a response body cannot be converted to
	// the requested type. Use errors.As with *DecodeError for details.
	ErrDecode = errors.New("vcontrold: cannot decode response")

	// ErrWriteRejected is returned when a write got a response that is not
	// an acknowledgement.
	ErrWriteRejected = errors.New("vcontrold: write not acknowledged")

	// ErrInvalidCommand is returned for an empty or malformed command key.
	ErrInvalidCommand = errors.New("vcontrold: invalid command")

	// ErrClosed is returned by operations on a closed Device.
	ErrClosed = errors.New("vcontrold: device closed")
)

// DecodeError describes a response body that could not be parsed.
type DecodeError struct {
	// Kind is the requested target type ("int" or "float").
	Kind string

	// Body is the trimmed response body as received.
	Body string

	// Err is the underlying parse error.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("vcontrold: cannot decode %q as %s: %v", e.Body, e.Kind, e.Err)
}

// Unwrap lets errors.Is match both ErrDecode and the parse error.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
