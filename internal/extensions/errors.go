package extensions

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the registry and dispatcher.
var (
	// ErrUnavailable means the target extension is not connected. The
	// call resolves without the extension ever being contacted.
	ErrUnavailable = errors.New("extension unavailable")

	// ErrUnknownTool means the extension does not expose the requested tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrAlreadyRegistered means a registration name collision.
	ErrAlreadyRegistered = errors.New("extension already registered")
)

// CallErrorKind classifies tool execution failures.
type CallErrorKind string

const (
	// KindTransport covers connection-level failures: broken pipe, dead
	// subprocess, malformed frames.
	KindTransport CallErrorKind = "transport"

	// KindTimeout means the per-call deadline elapsed.
	KindTimeout CallErrorKind = "timeout"

	// KindApplication means the extension executed the call and reported
	// failure, or the arguments were rejected before dispatch.
	KindApplication CallErrorKind = "application"
)

// CallError is a classified tool execution failure.
type CallError struct {
	Extension string
	Tool      string
	Kind      CallErrorKind
	Cause     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s/%s: %s error: %v", e.Extension, e.Tool, e.Kind, e.Cause)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// NewCallError builds a classified call error.
func NewCallError(extension, tool string, kind CallErrorKind, cause error) *CallError {
	return &CallError{Extension: extension, Tool: tool, Kind: kind, Cause: cause}
}
