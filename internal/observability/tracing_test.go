package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerNoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("tracer is nil")
	}

	ctx, span := tracer.StartModelCall(context.Background(), "anthropic", "m")
	if ctx == nil || span == nil {
		t.Fatal("no-op tracer returned nil span")
	}
	RecordError(span, errors.New("boom"))
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestStartToolCallSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer shutdown(context.Background())

	_, span := tracer.StartToolCall(context.Background(), "dev", "shell")
	RecordError(span, nil)
	span.End()
}
