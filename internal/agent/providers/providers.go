// Package providers implements the streaming LLM backends behind the
// agent.Provider interface. Each adapter converts the provider-neutral
// request into its SDK's wire format, retries transient failures with
// backoff, and classifies errors so the controller can tell a blip from
// a halt.
package providers

import (
	"context"

	"github.com/nickmurray47/goose/internal/agent"
	"github.com/nickmurray47/goose/internal/backoff"
)

const defaultMaxAttempts = 3

// openWithRetries opens a stream, retrying transient provider errors
// with jittered exponential backoff. Permanent errors return
// immediately; the last transient error is returned once attempts are
// spent.
func openWithRetries[T any](ctx context.Context, maxAttempts int, open func() (T, error)) (T, error) {
	return backoff.Retry(ctx, backoff.DefaultPolicy(), maxAttempts, agent.IsRetryableProviderError, open)
}

func orDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}
