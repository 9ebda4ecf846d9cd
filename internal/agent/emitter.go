package agent

import (
	"sync/atomic"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

const eventVersion = 1

// EventEmitter builds the session's ordered event stream. The sequence
// counter is atomic so concurrent tool executions emit safely; ordering
// guarantees come from the number, not from channel delivery order.
type EventEmitter struct {
	sessionID string
	sink      EventSink
	sequence  atomic.Uint64
	turnIndex atomic.Int64
}

// NewEventEmitter creates an emitter for one session.
func NewEventEmitter(sessionID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{sessionID: sessionID, sink: sink}
}

// SetTurn updates the turn index stamped on subsequent events.
func (e *EventEmitter) SetTurn(index int) {
	e.turnIndex.Store(int64(index))
}

func (e *EventEmitter) base(t models.AgentEventType) *models.AgentEvent {
	return &models.AgentEvent{
		Version:   eventVersion,
		Type:      t,
		Time:      time.Now().UTC(),
		Sequence:  e.sequence.Add(1),
		SessionID: e.sessionID,
		TurnIndex: int(e.turnIndex.Load()),
	}
}

func (e *EventEmitter) emit(ev *models.AgentEvent) {
	e.sink.OnEvent(ev)
}

// TurnStarted marks the beginning of a model turn.
func (e *EventEmitter) TurnStarted(index int) {
	e.SetTurn(index)
	e.emit(e.base(models.EventTurnStarted))
}

// ModelDelta streams incremental model text.
func (e *EventEmitter) ModelDelta(provider, model, delta string) {
	ev := e.base(models.EventModelDelta)
	ev.Stream = &models.StreamPayload{Delta: delta, Provider: provider, Model: model}
	e.emit(ev)
}

// ToolRequested records a model-requested tool call.
func (e *EventEmitter) ToolRequested(call models.ToolCall) {
	ev := e.base(models.EventToolRequested)
	ev.Tool = &models.ToolPayload{
		CallID:    call.ID,
		Extension: call.Extension,
		Name:      call.Tool,
		ArgsJSON:  call.Arguments,
	}
	e.emit(ev)
}

// PermissionNeeded records a gate suspension.
func (e *EventEmitter) PermissionNeeded(call models.ToolCall, signature string) {
	ev := e.base(models.EventPermissionNeeded)
	ev.Permission = &models.PermissionPayload{
		CallID:    call.ID,
		Extension: call.Extension,
		Tool:      call.Tool,
		Signature: signature,
	}
	e.emit(ev)
}

// PermissionResolved records the user's answer.
func (e *EventEmitter) PermissionResolved(call models.ToolCall, decision models.PermissionDecision) {
	ev := e.base(models.EventPermissionResolved)
	ev.Permission = &models.PermissionPayload{
		CallID:    call.ID,
		Extension: call.Extension,
		Tool:      call.Tool,
		Decision:  decision,
	}
	e.emit(ev)
}

// ToolResult records a resolved tool call.
func (e *EventEmitter) ToolResult(call models.ToolCall, res models.ToolResult) {
	ev := e.base(models.EventToolResult)
	ev.Tool = &models.ToolPayload{
		CallID:    res.ToolCallID,
		Extension: call.Extension,
		Name:      call.Tool,
		Outcome:   res.Outcome,
		Content:   res.Content,
		Elapsed:   res.Elapsed,
	}
	e.emit(ev)
}

// SecurityFlagged annotates a call the scanner flagged.
func (e *EventEmitter) SecurityFlagged(callID string, score float64, pattern string) {
	ev := e.base(models.EventSecurityFlagged)
	ev.Security = &models.SecurityPayload{CallID: callID, Score: score, Pattern: pattern}
	e.emit(ev)
}

// Compaction records a history compaction.
func (e *EventEmitter) Compaction(event models.CompactionEvent) {
	ev := e.base(models.EventCompactionOccurred)
	ev.Compaction = &models.CompactionPayload{
		FirstTurn:    event.FirstTurn,
		LastTurn:     event.LastTurn,
		TokensBefore: event.TokensBefore,
		TokensAfter:  event.TokensAfter,
	}
	e.emit(ev)
}

// TurnCompleted closes a model turn with its usage.
func (e *EventEmitter) TurnCompleted(index int, provider, model string, usage models.TokenUsage) {
	ev := e.base(models.EventTurnCompleted)
	ev.TurnIndex = index
	ev.Stream = &models.StreamPayload{
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	e.emit(ev)
}

// SessionEnded is the stream's terminal event.
func (e *EventEmitter) SessionEnded(reason models.EndReason, message string) {
	ev := e.base(models.EventSessionEnded)
	ev.End = &models.EndPayload{Reason: reason, Message: message}
	e.emit(ev)
}

// Error surfaces a non-fatal error on the stream.
func (e *EventEmitter) Error(err error, retriable bool) {
	ev := e.base(models.EventError)
	ev.Error = &models.ErrorPayload{
		Message:   err.Error(),
		Retriable: retriable,
		Err:       err,
	}
	e.emit(ev)
}
