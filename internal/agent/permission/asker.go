package permission

import (
	"context"

	"github.com/nickmurray47/goose/pkg/models"
)

// Prompt is one suspended permission question surfaced to a frontend.
type Prompt struct {
	Request   Request
	Signature string

	// Reply receives exactly one decision. Sends after the first are
	// discarded.
	Reply chan models.PermissionDecision
}

// ChannelAsker bridges the gate to a frontend over a channel. The engine
// goroutine blocks in Ask while the frontend reads Prompts and answers
// on the prompt's Reply channel.
type ChannelAsker struct {
	prompts chan Prompt
}

// NewChannelAsker creates an asker with the given prompt buffer.
func NewChannelAsker(buffer int) *ChannelAsker {
	return &ChannelAsker{prompts: make(chan Prompt, buffer)}
}

// Prompts is the stream of suspended questions for the frontend.
func (a *ChannelAsker) Prompts() <-chan Prompt {
	return a.prompts
}

// Ask publishes the prompt and waits for its answer or cancellation.
func (a *ChannelAsker) Ask(ctx context.Context, req Request, signature string) (models.PermissionDecision, error) {
	p := Prompt{
		Request:   req,
		Signature: signature,
		Reply:     make(chan models.PermissionDecision, 1),
	}
	select {
	case a.prompts <- p:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case d := <-p.Reply:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
