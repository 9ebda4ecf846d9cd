// Package extensions manages the tool surface of a session: the registry
// of connected extensions and the dispatcher that executes model-requested
// tool calls against them.
package extensions

import (
	"context"
	"encoding/json"
)

// ToolDef describes one tool an extension exposes.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	// ReadOnly marks tools the extension declares side-effect free.
	// The permission gate lets these through in approve modes.
	ReadOnly bool `json:"read_only,omitempty"`
}

// Status is the liveness of a registered extension.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// Client is the transport-level connection to one extension. Stdio
// subprocesses and in-process builtins both satisfy it.
type Client interface {
	// Name is the extension's registered name.
	Name() string

	// Connect establishes the connection and performs the handshake.
	Connect(ctx context.Context) error

	// Close tears the connection down. Idempotent.
	Close() error

	// ListTools returns the extension's tool surface.
	ListTools(ctx context.Context) ([]ToolDef, error)

	// CallTool invokes one tool and returns its textual content.
	CallTool(ctx context.Context, tool string, arguments json.RawMessage) (string, error)

	// Connected reports transport liveness.
	Connected() bool
}
