package models

import (
	"encoding/json"
	"time"
)

// AgentEvent is the unified event model for the session's ordered event
// stream. One stream drives the UI, trace files, and metrics.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a session for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// SessionID identifies the session this event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// TurnIndex is the 0-based turn number within the session.
	TurnIndex int `json:"turn_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Stream     *StreamPayload     `json:"stream,omitempty"`
	Tool       *ToolPayload       `json:"tool,omitempty"`
	Permission *PermissionPayload `json:"permission,omitempty"`
	Compaction *CompactionPayload `json:"compaction,omitempty"`
	Security   *SecurityPayload   `json:"security,omitempty"`
	End        *EndPayload        `json:"end,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Turn lifecycle
	EventTurnStarted   AgentEventType = "turn.started"
	EventTurnCompleted AgentEventType = "turn.completed"

	// Model streaming
	EventModelDelta AgentEventType = "model.delta"

	// Tool execution
	EventToolRequested AgentEventType = "tool.requested"
	EventToolResult    AgentEventType = "tool.result"

	// Permission gate
	EventPermissionNeeded   AgentEventType = "permission.needed"
	EventPermissionResolved AgentEventType = "permission.resolved"

	// Context management
	EventCompactionOccurred AgentEventType = "context.compacted"

	// Security scanner annotations
	EventSecurityFlagged AgentEventType = "security.flagged"

	// Non-fatal errors (provider retries, failed compactions)
	EventError AgentEventType = "error"

	// Session lifecycle
	EventSessionEnded AgentEventType = "session.ended"
)

// StreamPayload carries model streaming deltas and completion metadata.
type StreamPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Token counts (optional; set on turn.completed).
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ToolPayload describes requested tool calls and their results.
type ToolPayload struct {
	CallID    string `json:"call_id"`
	Extension string `json:"extension,omitempty"`
	Name      string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (for requested events).
	ArgsJSON json.RawMessage `json:"args_json,omitempty"`

	// For result events:
	Outcome ToolOutcome   `json:"outcome,omitempty"`
	Content string        `json:"content,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// PermissionPayload describes a gate suspension or its resolution.
type PermissionPayload struct {
	CallID    string             `json:"call_id"`
	Extension string             `json:"extension,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Signature string             `json:"signature,omitempty"`
	Decision  PermissionDecision `json:"decision,omitempty"` // resolved events only
}

// CompactionPayload records a history compaction visible to consumers.
type CompactionPayload struct {
	FirstTurn    int `json:"first_turn"`
	LastTurn     int `json:"last_turn"`
	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`
}

// SecurityPayload annotates a tool call the scanner flagged.
type SecurityPayload struct {
	CallID  string  `json:"call_id"`
	Score   float64 `json:"score"`
	Pattern string  `json:"pattern,omitempty"`
}

// EndReason classifies why a session's run ended.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndTurnLimit EndReason = "turn_limit"
	EndCancelled EndReason = "cancelled"
	EndFatal     EndReason = "fatal"
)

// EndPayload carries the terminal reason for session.ended events.
type EndPayload struct {
	Reason  EndReason `json:"reason"`
	Message string    `json:"message,omitempty"`
}

// ErrorPayload standardizes non-fatal errors surfaced on the stream.
type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	Err error `json:"-"`
}
