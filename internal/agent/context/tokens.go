// Package context manages the session's token budget: counting usage
// against the active model's window and compacting old history into a
// synthetic summary turn when the auto-compact threshold is crossed.
package context

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/nickmurray47/goose/pkg/models"
)

// Counter estimates token counts for text.
type Counter interface {
	Count(text string) int
}

// NewCounter returns a tiktoken-backed counter for the model, falling
// back to a bytes/4 heuristic when the model has no known encoding.
func NewCounter(model string) Counter {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &tiktokenCounter{enc: enc}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &tiktokenCounter{enc: enc}
	}
	return heuristicCounter{}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// heuristicCounter approximates tokens as bytes/4. Close enough for
// threshold checks when no encoding is available.
type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// EstimateTurns estimates the token footprint of a turn slice. Per-turn
// usage recorded at commit time wins; turns without usage (synthetic
// summaries, imported history) are counted from their text.
func EstimateTurns(counter Counter, turns []models.Turn) int {
	total := 0
	for _, turn := range turns {
		if n := turn.Usage.Total(); n > 0 {
			total += n
			continue
		}
		for _, msg := range turn.Messages {
			total += counter.Count(msg.Content)
			for _, res := range msg.ToolResults {
				total += counter.Count(res.Content)
			}
		}
	}
	return total
}
