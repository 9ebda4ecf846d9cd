package context

import (
	stdctx "context"
	"fmt"
	"strings"

	"github.com/nickmurray47/goose/pkg/models"
)

// CompletionFunc asks a model for one non-streaming completion. The
// manager receives it pre-bound to the router's worker model so this
// package never talks to providers directly.
type CompletionFunc func(ctx stdctx.Context, system, prompt string) (string, models.TokenUsage, error)

const summarySystemPrompt = `You compress agent conversation history. Produce a dense summary that preserves: the user's goals, decisions made, tool calls issued and their outcomes, file paths and identifiers mentioned, and any unresolved questions. Write plain prose, no preamble.`

// SummarizeFunc condenses a prefix of committed turns into summary text.
type SummarizeFunc func(ctx stdctx.Context, turns []models.Turn) (string, models.TokenUsage, error)

// NewSummarizer renders turns into a transcript and asks the bound model
// to compress them.
func NewSummarizer(complete CompletionFunc) SummarizeFunc {
	return func(ctx stdctx.Context, turns []models.Turn) (string, models.TokenUsage, error) {
		transcript := renderTranscript(turns)
		prompt := fmt.Sprintf("Summarize this conversation history:\n\n%s", transcript)
		summary, usage, err := complete(ctx, summarySystemPrompt, prompt)
		if err != nil {
			return "", usage, fmt.Errorf("summarize history: %w", err)
		}
		if strings.TrimSpace(summary) == "" {
			return "", usage, fmt.Errorf("summarize history: model returned empty summary")
		}
		return summary, usage, nil
	}
}

func renderTranscript(turns []models.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		for _, msg := range turn.Messages {
			if msg.Content != "" {
				fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(&b, "[tool call] %s %s\n", call.Qualified(), string(call.Arguments))
			}
			for _, res := range msg.ToolResults {
				content := res.Content
				if len(content) > 2000 {
					content = content[:2000] + "…(truncated)"
				}
				fmt.Fprintf(&b, "[tool result %s] %s\n", res.Outcome, content)
			}
		}
	}
	return b.String()
}
