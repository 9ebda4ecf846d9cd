package agent

import (
	"sync"
	"sync/atomic"

	"github.com/nickmurray47/goose/pkg/models"
)

// EventSink consumes the session's event stream. Implementations must be
// safe for concurrent OnEvent calls.
type EventSink interface {
	OnEvent(ev *models.AgentEvent)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnEvent(*models.AgentEvent) {}

// CallbackSink adapts a function to the EventSink interface.
type CallbackSink func(ev *models.AgentEvent)

func (f CallbackSink) OnEvent(ev *models.AgentEvent) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) OnEvent(ev *models.AgentEvent) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(ev)
		}
	}
}

// ChanSink forwards events to a channel without ever blocking the
// engine. Events the consumer cannot keep up with are dropped and
// counted; sequence numbers let the consumer detect the gaps.
type ChanSink struct {
	ch      chan *models.AgentEvent
	dropped atomic.Uint64
	closeMu sync.Mutex
	closed  bool
}

// NewChanSink creates a sink with the given buffer.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan *models.AgentEvent, buffer)}
}

// Events is the consumer side of the sink.
func (s *ChanSink) Events() <-chan *models.AgentEvent {
	return s.ch
}

// Dropped reports how many events were discarded.
func (s *ChanSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *ChanSink) OnEvent(ev *models.AgentEvent) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close ends the consumer channel. Further events are dropped.
func (s *ChanSink) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
