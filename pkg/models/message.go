package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a turn's transcript. Messages are value
// types; once their turn is committed they are never mutated.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Tokens      int            `json:"tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall is a model-requested tool invocation. The ID correlates the
// call with exactly one ToolResult in the same turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Extension string          `json:"extension"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Qualified returns the extension-prefixed tool name as the model sees it,
// e.g. "developer__shell".
func (c ToolCall) Qualified() string {
	if c.Extension == "" {
		return c.Tool
	}
	return c.Extension + "__" + c.Tool
}

// SplitQualified parses an extension-prefixed tool name back into its
// extension and tool parts. Names without a separator map to an empty
// extension.
func SplitQualified(name string) (extension, tool string) {
	if i := strings.Index(name, "__"); i >= 0 {
		return name[:i], name[i+2:]
	}
	return "", name
}

// ArgumentKeys returns the sorted top-level keys of the call's arguments.
// Used for permission signatures; malformed arguments yield nil.
func (c ToolCall) ArgumentKeys() []string {
	if len(c.Arguments) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(c.Arguments, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToolOutcome classifies how a tool call resolved.
type ToolOutcome string

const (
	OutcomeSuccess   ToolOutcome = "success"
	OutcomeError     ToolOutcome = "error"
	OutcomeDenied    ToolOutcome = "denied"
	OutcomeTimedOut  ToolOutcome = "timed_out"
	OutcomeCancelled ToolOutcome = "cancelled"
)

// ToolResult is the terminal record for one ToolCall. Every requested
// call resolves to exactly one result, whatever the outcome.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Outcome    ToolOutcome   `json:"outcome"`
	Content    string        `json:"content"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// IsError reports whether the result should be presented to the model as
// a failure.
func (r ToolResult) IsError() bool {
	return r.Outcome != OutcomeSuccess
}

// PermissionDecision is a user's answer to a permission prompt.
type PermissionDecision string

const (
	DecisionAllowOnce   PermissionDecision = "allow_once"
	DecisionAllowAlways PermissionDecision = "allow_always"
	DecisionDeny        PermissionDecision = "deny"
)
