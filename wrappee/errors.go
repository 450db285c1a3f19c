package wrappee

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the wrappee does not answer within the
// configured deadline. The process itself is left running.
var ErrTimeout = errors.New("wrappee: response timed out")

// ErrClosed is returned when the wrappee's stdout closed before a response
// arrived, which means the process exited.
var ErrClosed = errors.New("wrappee: stdout closed")

// SpawnError reports a failure to launch the wrappee process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("wrappee: spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProtocolError reports a stdout line that could not be parsed as a JSON-RPC
// message. Partial or chunked messages are not supported.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wrappee: malformed message %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
