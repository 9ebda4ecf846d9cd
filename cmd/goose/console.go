package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nickmurray47/goose/internal/agent/permission"
	"github.com/nickmurray47/goose/pkg/models"
)

// consoleUI is the terminal frontend: it renders the event stream to
// stdout and answers permission prompts from stdin. It implements both
// the controller's event sink and the permission asker.
type consoleUI struct {
	out io.Writer
	in  *bufio.Reader

	mu        sync.Mutex
	streaming bool
}

func newConsoleUI(out io.Writer, in io.Reader) *consoleUI {
	return &consoleUI{out: out, in: bufio.NewReader(in)}
}

func (c *consoleUI) OnEvent(ev *models.AgentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case models.EventModelDelta:
		if ev.Stream != nil {
			fmt.Fprint(c.out, ev.Stream.Delta)
			c.streaming = true
		}
	case models.EventToolRequested:
		c.breakLine()
		if ev.Tool != nil {
			fmt.Fprintf(c.out, "[tool] %s__%s %s\n", ev.Tool.Extension, ev.Tool.Name, truncate(string(ev.Tool.ArgsJSON), 120))
		}
	case models.EventToolResult:
		if ev.Tool != nil && ev.Tool.Outcome != models.OutcomeSuccess {
			c.breakLine()
			fmt.Fprintf(c.out, "[tool] %s__%s: %s\n", ev.Tool.Extension, ev.Tool.Name, ev.Tool.Outcome)
		}
	case models.EventCompactionOccurred:
		c.breakLine()
		if ev.Compaction != nil {
			fmt.Fprintf(c.out, "[context] compacted turns %d-%d (%d -> %d tokens)\n",
				ev.Compaction.FirstTurn, ev.Compaction.LastTurn,
				ev.Compaction.TokensBefore, ev.Compaction.TokensAfter)
		}
	case models.EventSecurityFlagged:
		c.breakLine()
		if ev.Security != nil {
			fmt.Fprintf(c.out, "[security] call %s flagged (score %.2f, pattern %s)\n",
				ev.Security.CallID, ev.Security.Score, ev.Security.Pattern)
		}
	case models.EventError:
		c.breakLine()
		if ev.Error != nil {
			fmt.Fprintf(c.out, "[error] %s\n", ev.Error.Message)
		}
	case models.EventSessionEnded:
		c.breakLine()
		if ev.End != nil && ev.End.Reason != models.EndCompleted {
			fmt.Fprintf(c.out, "[session] ended: %s\n", ev.End.Reason)
		}
	}
}

// breakLine terminates an in-progress streamed line before printing a
// status message. Callers hold c.mu.
func (c *consoleUI) breakLine() {
	if c.streaming {
		fmt.Fprintln(c.out)
		c.streaming = false
	}
}

// Ask prompts the user for a tool permission decision. It reads stdin in
// a goroutine so a cancelled context interrupts the wait.
func (c *consoleUI) Ask(ctx context.Context, req permission.Request, signature string) (models.PermissionDecision, error) {
	c.mu.Lock()
	c.breakLine()
	fmt.Fprintf(c.out, "\nAllow %s to run %s?\n  args: %s\n", req.Call.Extension, req.Call.Tool, truncate(string(req.Call.Arguments), 200))
	if req.Risk > 0 {
		fmt.Fprintf(c.out, "  warning: arguments look suspicious (risk %.2f)\n", req.Risk)
	}
	fmt.Fprint(c.out, "  [y]es once / [a]lways / [n]o: ")
	c.mu.Unlock()

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return models.DecisionDeny, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return models.DecisionDeny, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return models.DecisionAllowOnce, nil
		case "a", "always":
			return models.DecisionAllowAlways, nil
		default:
			return models.DecisionDeny, nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
