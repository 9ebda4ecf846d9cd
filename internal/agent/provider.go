// Package agent implements the turn controller: the state machine that
// drives a session from user input through model calls, the permission
// gate, tool dispatch, and token accounting to a terminal state.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nickmurray47/goose/pkg/models"
)

// CompletionMessage is one transcript entry in provider-neutral form.
type CompletionMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSpec advertises one tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is a provider-neutral model call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// ToolInvocation is a tool call as the provider streams it: the flat
// model-facing name, before the controller splits off the extension
// prefix.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// CompletionChunk is one unit of a streaming response. Text deltas
// arrive first; complete tool calls follow as they finalize; the last
// chunk has Done set and carries the usage counters.
type CompletionChunk struct {
	Text     string
	ToolCall *ToolInvocation
	Done     bool
	Error    error

	// Set on the final chunk.
	InputTokens  int
	OutputTokens int
}

// Model describes one model a provider can serve.
type Model struct {
	ID            string
	Name          string
	ContextWindow int
}

// Provider is a streaming LLM backend.
type Provider interface {
	// Name is the stable lowercase provider identifier.
	Name() string

	// Models lists known models and their context windows.
	Models() []Model

	// Complete starts a streaming completion. Errors after the stream
	// opens arrive as chunks with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// ProviderSet is the registered providers, keyed by name.
type ProviderSet struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewProviderSet builds a set from the given providers.
func NewProviderSet(providers ...Provider) *ProviderSet {
	s := &ProviderSet{providers: make(map[string]Provider)}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Register adds or replaces a provider.
func (s *ProviderSet) Register(p Provider) {
	s.mu.Lock()
	s.providers[p.Name()] = p
	s.mu.Unlock()
}

// Lookup returns the provider with the given name.
func (s *ProviderSet) Lookup(name string) (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Window returns the context window for a provider/model pair.
// Unknown models report the provider's largest known window so the
// context manager stays permissive rather than compacting too early.
func (s *ProviderSet) Window(provider, model string) int {
	p, err := s.Lookup(provider)
	if err != nil {
		return 0
	}
	largest := 0
	for _, m := range p.Models() {
		if m.ID == model {
			return m.ContextWindow
		}
		if m.ContextWindow > largest {
			largest = m.ContextWindow
		}
	}
	return largest
}
