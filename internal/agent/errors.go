package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for terminal conditions.
var (
	// ErrTurnLimit means the configured turn budget was spent before the
	// model produced a final answer. The partial session is preserved.
	ErrTurnLimit = errors.New("turn limit reached")

	// ErrContextOverflow means a request exceeded the model window even
	// after compaction.
	ErrContextOverflow = errors.New("context window exceeded")
)

// ProviderErrorClass splits provider failures into the two paths the
// controller cares about: retry or halt.
type ProviderErrorClass string

const (
	// ClassTransient failures (rate limits, 5xx, timeouts) are retried
	// with backoff before giving up.
	ClassTransient ProviderErrorClass = "transient"

	// ClassPermanent failures (auth, invalid request, missing model)
	// halt the session as Fatal.
	ClassPermanent ProviderErrorClass = "permanent"
)

// ProviderError is a classified failure from an LLM provider.
type ProviderError struct {
	Provider string
	Model    string
	Class    ProviderErrorClass
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Class))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Class == ClassTransient
}

// NewProviderError classifies cause and wraps it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Model:    model,
		Class:    classifyProviderError(cause),
		Cause:    cause,
	}
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	switch {
	case status == 429 || status >= 500:
		e.Class = ClassTransient
	case status >= 400:
		e.Class = ClassPermanent
	}
	return e
}

// classifyProviderError decides transient vs permanent from the error
// message when no status code is available. Unknown errors default to
// transient so a blip never kills a session that a retry would save.
func classifyProviderError(err error) ProviderErrorClass {
	if err == nil {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())
	permanent := []string{
		"api key", "unauthorized", "authentication", "forbidden",
		"invalid request", "not found", "unsupported", "billing",
	}
	for _, s := range permanent {
		if strings.Contains(msg, s) {
			return ClassPermanent
		}
	}
	return ClassTransient
}

// IsRetryableProviderError is the retry predicate used around model calls.
func IsRetryableProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
