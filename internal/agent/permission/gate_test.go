package permission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nickmurray47/goose/pkg/models"
)

func shellCall(id string) models.ToolCall {
	return models.ToolCall{
		ID:        id,
		Extension: "developer",
		Tool:      "shell",
		Arguments: json.RawMessage(`{"command":"make test"}`),
	}
}

// countingAsker records how often the user was consulted and replies
// with a fixed decision.
type countingAsker struct {
	decision models.PermissionDecision
	asks     int
}

func (a *countingAsker) Ask(_ context.Context, _ Request, _ string) (models.PermissionDecision, error) {
	a.asks++
	return a.decision, nil
}

func TestGateModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     models.PermissionMode
		readOnly bool
		decision models.PermissionDecision
		allowed  bool
		asked    bool
	}{
		{name: "chat denies everything", mode: models.ModeChat, allowed: false, asked: false},
		{name: "chat denies read-only too", mode: models.ModeChat, readOnly: true, allowed: false},
		{name: "auto allows without asking", mode: models.ModeAuto, allowed: true, asked: false},
		{name: "approve allows read-only", mode: models.ModeApprove, readOnly: true, allowed: true},
		{name: "approve asks for side effects", mode: models.ModeApprove, decision: models.DecisionAllowOnce, allowed: true, asked: true},
		{name: "approve honors denial", mode: models.ModeApprove, decision: models.DecisionDeny, allowed: false, asked: true},
		{name: "smart approve asks first time", mode: models.ModeSmartApprove, decision: models.DecisionAllowOnce, allowed: true, asked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &countingAsker{decision: tt.decision}
			g := NewGate(tt.mode, 0.7, asker)

			res, err := g.Decide(context.Background(), Request{Call: shellCall("tc-1"), ReadOnly: tt.readOnly})
			if err != nil {
				t.Fatalf("Decide() error: %v", err)
			}
			if res.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.allowed)
			}
			if res.Asked != tt.asked {
				t.Errorf("Asked = %v, want %v", res.Asked, tt.asked)
			}
			if tt.asked && asker.asks != 1 {
				t.Errorf("asker consulted %d times, want 1", asker.asks)
			}
			if !tt.asked && asker.asks != 0 {
				t.Errorf("asker consulted %d times, want 0", asker.asks)
			}
		})
	}
}

func TestSmartApproveCachesSignature(t *testing.T) {
	asker := &countingAsker{decision: models.DecisionAllowAlways}
	g := NewGate(models.ModeSmartApprove, 0.7, asker)
	ctx := context.Background()

	// First call asks; allow-always caches the signature.
	res, err := g.Decide(ctx, Request{Call: shellCall("tc-1")})
	if err != nil || !res.Allowed || !res.Asked {
		t.Fatalf("first decide = %+v, %v", res, err)
	}

	// Same shape with different values passes without asking.
	repeat := shellCall("tc-2")
	repeat.Arguments = json.RawMessage(`{"command":"make lint"}`)
	res, err = g.Decide(ctx, Request{Call: repeat})
	if err != nil || !res.Allowed {
		t.Fatalf("repeat decide = %+v, %v", res, err)
	}
	if res.Asked {
		t.Error("cached signature asked again")
	}
	if asker.asks != 1 {
		t.Errorf("asker consulted %d times, want 1", asker.asks)
	}

	// A different argument shape is a new signature.
	other := shellCall("tc-3")
	other.Arguments = json.RawMessage(`{"command":"ls","cwd":"/tmp"}`)
	res, err = g.Decide(ctx, Request{Call: other})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Asked {
		t.Error("new signature did not ask")
	}
}

func TestAllowOnceDoesNotCache(t *testing.T) {
	asker := &countingAsker{decision: models.DecisionAllowOnce}
	g := NewGate(models.ModeSmartApprove, 0.7, asker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := g.Decide(ctx, Request{Call: shellCall("tc")})
		if err != nil || !res.Allowed {
			t.Fatalf("decide %d = %+v, %v", i, res, err)
		}
	}
	if asker.asks != 2 {
		t.Errorf("asker consulted %d times, want 2 (allow-once must not cache)", asker.asks)
	}
}

func TestRiskEscalatesToAsk(t *testing.T) {
	tests := []struct {
		name  string
		mode  models.PermissionMode
		risk  float64
		asked bool
	}{
		{"auto below threshold", models.ModeAuto, 0.5, false},
		{"auto at threshold", models.ModeAuto, 0.7, true},
		{"auto above threshold", models.ModeAuto, 0.95, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &countingAsker{decision: models.DecisionAllowOnce}
			g := NewGate(tt.mode, 0.7, asker)
			res, err := g.Decide(context.Background(), Request{Call: shellCall("tc-1"), Risk: tt.risk})
			if err != nil {
				t.Fatal(err)
			}
			if res.Asked != tt.asked {
				t.Errorf("Asked = %v, want %v", res.Asked, tt.asked)
			}
		})
	}
}

func TestRiskEscalatesCachedSignature(t *testing.T) {
	asker := &countingAsker{decision: models.DecisionAllowAlways}
	g := NewGate(models.ModeSmartApprove, 0.7, asker)
	ctx := context.Background()

	if _, err := g.Decide(ctx, Request{Call: shellCall("tc-1")}); err != nil {
		t.Fatal(err)
	}
	res, err := g.Decide(ctx, Request{Call: shellCall("tc-2"), Risk: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Asked {
		t.Error("flagged call passed on cached signature without asking")
	}
}

func TestDecideCancelled(t *testing.T) {
	asker := NewChannelAsker(1)
	g := NewGate(models.ModeApprove, 0.7, asker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Decide(ctx, Request{Call: shellCall("tc-1")})
		done <- err
	}()

	// Wait for the suspension, then cancel instead of answering.
	<-asker.Prompts()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Decide() error = %v, want context.Canceled", err)
	}
}

func TestChannelAskerRoundTrip(t *testing.T) {
	asker := NewChannelAsker(1)
	g := NewGate(models.ModeApprove, 0.7, asker)

	done := make(chan Result, 1)
	go func() {
		res, _ := g.Decide(context.Background(), Request{Call: shellCall("tc-1")})
		done <- res
	}()

	p := <-asker.Prompts()
	if p.Request.Call.ID != "tc-1" {
		t.Errorf("prompt call id = %q", p.Request.Call.ID)
	}
	p.Reply <- models.DecisionAllowOnce

	res := <-done
	if !res.Allowed || !res.Asked {
		t.Errorf("result = %+v, want allowed+asked", res)
	}
}

func TestSignatureShape(t *testing.T) {
	a := shellCall("1")
	b := shellCall("2")
	b.Arguments = json.RawMessage(`{"command":"other"}`)
	if Signature(a) != Signature(b) {
		t.Error("same shape produced different signatures")
	}

	c := shellCall("3")
	c.Arguments = json.RawMessage(`{"command":"x","timeout":5}`)
	if Signature(a) == Signature(c) {
		t.Error("different shapes produced equal signatures")
	}
}
