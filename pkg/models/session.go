package models

import (
	"time"
)

// PermissionMode controls how tool calls pass the permission gate.
type PermissionMode string

const (
	// ModeAuto allows everything below the risk threshold without asking.
	ModeAuto PermissionMode = "auto"

	// ModeApprove asks the user for every side-effecting tool call.
	ModeApprove PermissionMode = "approve"

	// ModeChat denies all tool calls; the session is conversation only.
	ModeChat PermissionMode = "chat"

	// ModeSmartApprove asks once per call signature, then remembers
	// allow-always answers for the rest of the session.
	ModeSmartApprove PermissionMode = "smart_approve"
)

// DefaultMode is used when a session does not specify one.
const DefaultMode = ModeSmartApprove

// Valid reports whether m is a recognized permission mode.
func (m PermissionMode) Valid() bool {
	switch m {
	case ModeAuto, ModeApprove, ModeChat, ModeSmartApprove:
		return true
	}
	return false
}

// ModelRole names a routing slot. Each role resolves to a provider and
// model binding, with fallbacks to the main binding.
type ModelRole string

const (
	ModelRoleMain    ModelRole = "main"
	ModelRoleLead    ModelRole = "lead"
	ModelRoleWorker  ModelRole = "worker"
	ModelRolePlanner ModelRole = "planner"
)

// ModelParams are per-binding generation parameters.
type ModelParams struct {
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature"`
}

// RoleBinding pins a model role to a concrete provider and model.
type RoleBinding struct {
	Provider string      `json:"provider" yaml:"provider"`
	Model    string      `json:"model" yaml:"model"`
	Params   ModelParams `json:"params,omitempty" yaml:"params"`
}

// TokenUsage accumulates prompt and completion tokens.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add folds another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Turn is one committed unit of work: the user (or synthetic) prompt,
// the model's response, and every tool call with its matching result.
// Turns are immutable once committed.
type Turn struct {
	Index       int        `json:"index"`
	Messages    []Message  `json:"messages"`
	Usage       TokenUsage `json:"usage"`
	Synthetic   bool       `json:"synthetic,omitempty"` // summary turn produced by compaction
	CommittedAt time.Time  `json:"committed_at"`
}

// ToolCalls returns every tool call recorded in the turn.
func (t *Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, m := range t.Messages {
		calls = append(calls, m.ToolCalls...)
	}
	return calls
}

// ToolResults returns every tool result recorded in the turn.
func (t *Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, m := range t.Messages {
		results = append(results, m.ToolResults...)
	}
	return results
}

// CompactionEvent records one history compaction: the replaced turn range
// and the token counts before and after.
type CompactionEvent struct {
	At           time.Time `json:"at"`
	FirstTurn    int       `json:"first_turn"`
	LastTurn     int       `json:"last_turn"`
	TokensBefore int       `json:"tokens_before"`
	TokensAfter  int       `json:"tokens_after"`
}

// Session is a full conversation: ordered committed turns plus the
// configuration that shaped them. Sessions serialize to JSON for
// persistence and resume.
type Session struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name,omitempty"`
	Mode         PermissionMode            `json:"mode"`
	Instructions string                    `json:"instructions,omitempty"`
	Turns        []Turn                    `json:"turns"`
	Bindings     map[ModelRole]RoleBinding `json:"bindings,omitempty"`
	Usage        TokenUsage                `json:"usage"`
	Compactions  []CompactionEvent         `json:"compactions,omitempty"`
	Metadata     map[string]any            `json:"metadata,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Binding resolves a role against the session's bindings with the
// documented fallbacks: worker and planner fall back to the main binding;
// lead falls back to the main provider when no lead binding is set.
func (s *Session) Binding(role ModelRole) (RoleBinding, bool) {
	if b, ok := s.Bindings[role]; ok {
		return b, true
	}
	if role == ModelRoleMain {
		return RoleBinding{}, false
	}
	b, ok := s.Bindings[ModelRoleMain]
	return b, ok
}

// Validate checks structural invariants a loaded session must hold.
// A violation means the stored state is corrupt.
func (s *Session) Validate() error {
	if s.ID == "" {
		return &CorruptError{Reason: "missing session id"}
	}
	if !s.Mode.Valid() {
		return &CorruptError{Reason: "unknown permission mode " + string(s.Mode)}
	}
	for i, turn := range s.Turns {
		if turn.Index != i {
			return &CorruptError{Reason: "turn index out of order"}
		}
		calls := map[string]bool{}
		for _, c := range turn.ToolCalls() {
			calls[c.ID] = false
		}
		for _, r := range turn.ToolResults() {
			matched, ok := calls[r.ToolCallID]
			if !ok || matched {
				return &CorruptError{Reason: "tool result without a unique matching call"}
			}
			calls[r.ToolCallID] = true
		}
		for id, matched := range calls {
			if !matched {
				return &CorruptError{Reason: "tool call " + id + " has no result"}
			}
		}
	}
	return nil
}

// CorruptError indicates stored session state violates an invariant.
// Loading a corrupt session is fatal.
type CorruptError struct {
	Reason string
}

func (e *CorruptError) Error() string {
	return "session corrupt: " + e.Reason
}
