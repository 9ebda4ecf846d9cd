package extensions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

// DispatcherConfig bounds tool execution.
type DispatcherConfig struct {
	// MaxInFlight caps concurrently executing calls across extensions.
	// Default: 4
	MaxInFlight int

	// CallTimeout applies when the extension's spec declares none.
	// Default: 300s
	CallTimeout time.Duration
}

func sanitizeDispatcherConfig(cfg DispatcherConfig) DispatcherConfig {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 300 * time.Second
	}
	return cfg
}

// Dispatcher executes approved tool calls against registered extensions.
// Independent calls run concurrently up to MaxInFlight; calls to a
// non-reentrant extension serialize among themselves. Every call
// resolves to exactly one ToolResult correlated by ToolCall ID.
type Dispatcher struct {
	registry  *Registry
	config    DispatcherConfig
	sem       chan struct{}
	validator *schemaValidator
	logger    *slog.Logger
	metrics   dispatcherMetrics
}

type dispatcherMetrics struct {
	executed  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	cancelled atomic.Int64
	inFlight  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of dispatcher counters.
type MetricsSnapshot struct {
	Executed  int64
	Succeeded int64
	Failed    int64
	TimedOut  int64
	Cancelled int64
	InFlight  int64
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg = sanitizeDispatcherConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		config:    cfg,
		sem:       make(chan struct{}, cfg.MaxInFlight),
		validator: newSchemaValidator(),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Metrics returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Executed:  d.metrics.executed.Load(),
		Succeeded: d.metrics.succeeded.Load(),
		Failed:    d.metrics.failed.Load(),
		TimedOut:  d.metrics.timedOut.Load(),
		Cancelled: d.metrics.cancelled.Load(),
		InFlight:  d.metrics.inFlight.Load(),
	}
}

// ExecuteAll runs a turn's approved calls and returns results in call
// order. It always returns exactly one result per call.
func (d *Dispatcher) ExecuteAll(ctx context.Context, snap *Snapshot, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = d.Execute(ctx, snap, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs one approved call to resolution.
func (d *Dispatcher) Execute(ctx context.Context, snap *Snapshot, call models.ToolCall) models.ToolResult {
	start := time.Now()
	d.metrics.executed.Add(1)

	def, ok := snap.Resolve(call.Extension, call.Tool)
	if !ok {
		return d.fail(call, start, fmt.Errorf("%w: %s", ErrUnknownTool, call.Qualified()))
	}

	// Arguments that cannot satisfy the tool's schema never reach the
	// extension.
	if err := d.validator.validate(call.Extension, def, call.Arguments); err != nil {
		return d.fail(call, start, NewCallError(call.Extension, call.Tool, KindApplication, err))
	}

	e, release, err := d.registry.acquire(call.Extension)
	if err != nil {
		return d.fail(call, start, err)
	}
	defer release()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return d.resolveContextErr(call, start, ctx.Err())
	}

	if e.spec.NonReentrant {
		e.serial.Lock()
		defer e.serial.Unlock()
	}

	timeout := e.spec.Timeout
	if timeout <= 0 {
		timeout = d.config.CallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.metrics.inFlight.Add(1)
	content, err := d.callWithRecovery(callCtx, e, call)
	d.metrics.inFlight.Add(-1)

	elapsed := time.Since(start)
	if err == nil {
		d.metrics.succeeded.Add(1)
		return models.ToolResult{
			ToolCallID: call.ID,
			Outcome:    models.OutcomeSuccess,
			Content:    content,
			Elapsed:    elapsed,
		}
	}

	// The session being cancelled wins over the per-call deadline.
	if ctx.Err() != nil {
		return d.resolveContextErr(call, start, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		d.metrics.timedOut.Add(1)
		d.logger.Warn("tool call timed out",
			"extension", call.Extension, "tool", call.Tool, "timeout", timeout)
		return models.ToolResult{
			ToolCallID: call.ID,
			Outcome:    models.OutcomeTimedOut,
			Content:    fmt.Sprintf("tool call timed out after %s", timeout),
			Elapsed:    elapsed,
		}
	}
	return d.fail(call, start, err)
}

// callWithRecovery invokes the client and converts panics into transport
// errors so one misbehaving extension cannot take the engine down.
func (d *Dispatcher) callWithRecovery(ctx context.Context, e *entry, call models.ToolCall) (content string, err error) {
	type outcome struct {
		content string
		err     error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool call panic",
					"extension", call.Extension, "tool", call.Tool,
					"panic", r, "stack", string(debug.Stack()))
				resultCh <- outcome{err: NewCallError(call.Extension, call.Tool, KindTransport,
					fmt.Errorf("extension panicked: %v", r))}
			}
		}()
		c, callErr := e.client.CallTool(ctx, call.Tool, call.Arguments)
		resultCh <- outcome{content: c, err: callErr}
	}()

	select {
	case res := <-resultCh:
		return res.content, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Dispatcher) resolveContextErr(call models.ToolCall, start time.Time, err error) models.ToolResult {
	d.metrics.cancelled.Add(1)
	content := "tool call cancelled"
	if err != nil && !errors.Is(err, context.Canceled) {
		content = fmt.Sprintf("tool call aborted: %v", err)
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Outcome:    models.OutcomeCancelled,
		Content:    content,
		Elapsed:    time.Since(start),
	}
}

func (d *Dispatcher) fail(call models.ToolCall, start time.Time, err error) models.ToolResult {
	d.metrics.failed.Add(1)
	d.logger.Warn("tool call failed",
		"extension", call.Extension, "tool", call.Tool, "error", err)
	return models.ToolResult{
		ToolCallID: call.ID,
		Outcome:    models.OutcomeError,
		Content:    err.Error(),
		Elapsed:    time.Since(start),
	}
}
