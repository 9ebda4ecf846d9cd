package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nickmurray47/goose/internal/agent"
	"github.com/nickmurray47/goose/pkg/models"
)

func TestOpenWithRetriesPermanentStopsEarly(t *testing.T) {
	calls := 0
	permErr := &agent.ProviderError{Provider: "x", Class: agent.ClassPermanent, Cause: errors.New("bad key")}

	_, err := openWithRetries(context.Background(), 3, func() (int, error) {
		calls++
		return 0, permErr
	})
	if !errors.Is(err, permErr) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("open attempted %d times, want 1", calls)
	}
}

func TestOpenWithRetriesTransientRecovers(t *testing.T) {
	calls := 0
	transient := &agent.ProviderError{Provider: "x", Class: agent.ClassTransient, Cause: errors.New("rate limited")}

	v, err := openWithRetries(context.Background(), 3, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, transient
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if v != 42 || calls != 3 {
		t.Errorf("got %d after %d attempts", v, calls)
	}
}

func TestOpenWithRetriesExhausted(t *testing.T) {
	transient := &agent.ProviderError{Provider: "x", Class: agent.ClassTransient, Cause: errors.New("flaky")}

	_, err := openWithRetries(context.Background(), 2, func() (int, error) {
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v, want last transient error", err)
	}
}

func TestNewProvidersRequireAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("anthropic: expected error without API key")
	}
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("openai: expected error without API key")
	}
}

func transcript() []agent.CompletionMessage {
	return []agent.CompletionMessage{
		{Role: models.RoleUser, Content: "list files"},
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{{
			ID: "tc-1", Extension: "dev", Tool: "shell",
			Arguments: json.RawMessage(`{"command":"ls"}`),
		}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{
			ToolCallID: "tc-1", Outcome: models.OutcomeSuccess, Content: "a.go b.go",
		}}},
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs, err := convertOpenAIMessages(transcript(), "be terse")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be terse" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Name != "dev__shell" {
		t.Errorf("assistant tool calls = %+v", msgs[2].ToolCalls)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "tc-1" {
		t.Errorf("tool result message = %+v", msgs[3])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := convertOpenAITools([]agent.ToolSpec{{
		Name:        "dev__shell",
		Description: "run a command",
		Schema:      json.RawMessage(`{"type":"object"}`),
	}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools", len(tools))
	}
	if tools[0].Function.Name != "dev__shell" || tools[0].Function.Description != "run a command" {
		t.Errorf("tool = %+v", tools[0].Function)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs, err := convertAnthropicMessages(transcript())
	if err != nil {
		t.Fatal(err)
	}
	// user, assistant with tool_use, user with tool_result
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("role = %q", msgs[1].Role)
	}
}

func TestConvertAnthropicMessagesRejectsBadArguments(t *testing.T) {
	_, err := convertAnthropicMessages([]agent.CompletionMessage{{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{{
			ID: "tc-1", Extension: "dev", Tool: "shell",
			Arguments: json.RawMessage(`not json`),
		}},
	}})
	if err == nil {
		t.Fatal("expected error for malformed tool arguments")
	}
}
