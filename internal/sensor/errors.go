package sensor

import (
	"errors"
	"fmt"

	"github.com/inkley/sensorctl/internal/can"
)

var (
	// ErrNoChannel means connect was attempted with no serial channel
	// configured.
	ErrNoChannel = errors.New("no CAN channel configured")

	ErrConnected    = errors.New("already connected")
	ErrNotConnected = errors.New("not connected")

	// ErrStreaming rejects a second concurrent reader.
	ErrStreaming    = errors.New("streaming is already active")
	ErrNotStreaming = errors.New("streaming is not active")

	// ErrVersionTimeout means the module never answered a version request.
	ErrVersionTimeout = errors.New("no version response from sensor module")
)

// TransportError wraps a failure of the underlying CAN-over-serial link.
type TransportError struct {
	Op  string // open, send, receive, close
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a frame that does not match the firmware layout.
// Recoverable: the stream skips the frame and carries on.
type DecodeError struct {
	Frame  can.Frame
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode frame %s: %s", e.Frame, e.Reason)
}
