// Package permission implements the gate every tool call passes before
// dispatch. The gate maps a call to Allow, Ask, or Deny according to the
// session's permission mode, then resolves Ask verdicts by suspending on
// a user decision.
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nickmurray47/goose/pkg/models"
)

// Verdict is the gate's pre-decision for a tool call.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictAsk
	VerdictDeny
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictAsk:
		return "ask"
	case VerdictDeny:
		return "deny"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Request is one tool call under evaluation.
type Request struct {
	Call models.ToolCall

	// ReadOnly marks tools the extension declares side-effect free.
	ReadOnly bool

	// Risk is the security scanner's score for the call arguments.
	// Zero when the scanner is disabled.
	Risk float64
}

// Result is the gate's final answer for one call.
type Result struct {
	Allowed bool

	// Asked is true when the user was consulted.
	Asked bool

	// Decision is set when Asked is true.
	Decision models.PermissionDecision

	// Signature identifies the call shape for the session cache.
	Signature string

	// Reason explains denials in the tool result fed back to the model.
	Reason string
}

// Asker resolves an Ask verdict by consulting the user. Implementations
// block until the user answers or ctx is cancelled.
type Asker interface {
	Ask(ctx context.Context, req Request, signature string) (models.PermissionDecision, error)
}

// AskerFunc adapts a function to the Asker interface.
type AskerFunc func(ctx context.Context, req Request, signature string) (models.PermissionDecision, error)

func (f AskerFunc) Ask(ctx context.Context, req Request, signature string) (models.PermissionDecision, error) {
	return f(ctx, req, signature)
}

// DenyAll is the asker for headless runs: every prompt is a denial.
var DenyAll = AskerFunc(func(context.Context, Request, string) (models.PermissionDecision, error) {
	return models.DecisionDeny, nil
})

// Gate evaluates tool calls for one session. Safe for concurrent use;
// the allow-always cache is shared across concurrent calls of a turn.
type Gate struct {
	mode          models.PermissionMode
	riskThreshold float64
	asker         Asker

	mu     sync.Mutex
	always map[string]bool
}

// NewGate builds a gate for the given mode. riskThreshold is the scanner
// score at which any verdict escalates to asking the user.
func NewGate(mode models.PermissionMode, riskThreshold float64, asker Asker) *Gate {
	if asker == nil {
		asker = DenyAll
	}
	return &Gate{
		mode:          mode,
		riskThreshold: riskThreshold,
		asker:         asker,
		always:        make(map[string]bool),
	}
}

// Mode returns the gate's permission mode.
func (g *Gate) Mode() models.PermissionMode {
	return g.mode
}

// Signature identifies a call shape: extension, tool, and the sorted
// top-level argument keys. Values are deliberately excluded so an
// allow-always answer covers repeats of the same operation.
func Signature(call models.ToolCall) string {
	keys := call.ArgumentKeys()
	return call.Extension + "/" + call.Tool + "?" + strings.Join(keys, ",")
}

// Decide evaluates one tool call, suspending on the asker when the
// verdict is Ask. A cancelled context resolves as an error so the caller
// can record the call as cancelled rather than denied.
func (g *Gate) Decide(ctx context.Context, req Request) (Result, error) {
	sig := Signature(req.Call)
	res := Result{Signature: sig}

	verdict, reason := g.verdict(req, sig)

	// A flagged call is never silently allowed, whatever the mode said.
	if req.Risk >= g.riskThreshold && g.riskThreshold > 0 && verdict == VerdictAllow {
		verdict = VerdictAsk
		reason = fmt.Sprintf("security scanner risk %.2f", req.Risk)
	}

	switch verdict {
	case VerdictAllow:
		res.Allowed = true
		return res, nil
	case VerdictDeny:
		res.Reason = reason
		return res, nil
	}

	decision, err := g.asker.Ask(ctx, req, sig)
	if err != nil {
		return res, err
	}
	res.Asked = true
	res.Decision = decision
	switch decision {
	case models.DecisionAllowOnce:
		res.Allowed = true
	case models.DecisionAllowAlways:
		res.Allowed = true
		g.remember(sig)
	case models.DecisionDeny:
		res.Reason = "denied by user"
	default:
		return res, fmt.Errorf("unknown permission decision %q", decision)
	}
	return res, nil
}

// verdict computes the mode's answer before risk escalation.
func (g *Gate) verdict(req Request, sig string) (Verdict, string) {
	switch g.mode {
	case models.ModeChat:
		return VerdictDeny, "tool calls are disabled in chat mode"
	case models.ModeAuto:
		return VerdictAllow, ""
	case models.ModeApprove:
		if req.ReadOnly {
			return VerdictAllow, ""
		}
		return VerdictAsk, ""
	case models.ModeSmartApprove:
		if req.ReadOnly {
			return VerdictAllow, ""
		}
		if g.remembered(sig) {
			return VerdictAllow, ""
		}
		return VerdictAsk, ""
	default:
		return VerdictDeny, fmt.Sprintf("unknown permission mode %q", g.mode)
	}
}

func (g *Gate) remember(sig string) {
	g.mu.Lock()
	g.always[sig] = true
	g.mu.Unlock()
}

func (g *Gate) remembered(sig string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.always[sig]
}

// Remembered reports whether a signature has an allow-always entry.
func (g *Gate) Remembered(call models.ToolCall) bool {
	return g.remembered(Signature(call))
}
