package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

// TraceHeader is the first line of a trace file.
type TraceHeader struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// Redactor rewrites events before they hit disk, for stripping secrets
// out of tool arguments. A nil redactor writes events untouched.
type Redactor func(ev *models.AgentEvent) *models.AgentEvent

// TraceWriter persists the event stream as JSONL: one header line, then
// one line per event. It is an EventSink; wire it into a MultiSink next
// to the live consumer.
type TraceWriter struct {
	mu       sync.Mutex
	w        *bufio.Writer
	closer   io.Closer
	redactor Redactor
	err      error
}

// NewTraceWriter opens path for writing and emits the header.
func NewTraceWriter(path, sessionID string, redactor Redactor) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	t := &TraceWriter{w: bufio.NewWriter(f), closer: f, redactor: redactor}
	header := TraceHeader{Version: eventVersion, SessionID: sessionID, StartedAt: time.Now().UTC()}
	if err := t.writeJSON(header); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *TraceWriter) OnEvent(ev *models.AgentEvent) {
	if t.redactor != nil {
		ev = t.redactor(ev)
		if ev == nil {
			return
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	t.err = t.encode(ev)
}

func (t *TraceWriter) writeJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encode(v)
}

func (t *TraceWriter) encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close flushes and closes the file, reporting any deferred write error.
func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if flushErr := t.w.Flush(); flushErr != nil && t.err == nil {
		t.err = flushErr
	}
	if closeErr := t.closer.Close(); closeErr != nil && t.err == nil {
		t.err = closeErr
	}
	return t.err
}

// ReadTrace parses a trace file and validates that event sequence
// numbers are strictly increasing.
func ReadTrace(r io.Reader) (TraceHeader, []*models.AgentEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var header TraceHeader
	if !scanner.Scan() {
		return header, nil, fmt.Errorf("trace is empty")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("parse trace header: %w", err)
	}

	var events []*models.AgentEvent
	var lastSeq uint64
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev models.AgentEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return header, events, fmt.Errorf("parse trace event %d: %w", len(events)+1, err)
		}
		if ev.Sequence <= lastSeq {
			return header, events, fmt.Errorf("trace sequence not increasing at event %d (%d after %d)",
				len(events)+1, ev.Sequence, lastSeq)
		}
		lastSeq = ev.Sequence
		events = append(events, &ev)
	}
	return header, events, scanner.Err()
}
