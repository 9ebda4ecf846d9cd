package extensions

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

// brokenClient fails at a chosen stage.
type brokenClient struct {
	name        string
	failConnect bool
	failList    bool
	connected   bool
}

func (c *brokenClient) Name() string { return c.name }

func (c *brokenClient) Connect(context.Context) error {
	if c.failConnect {
		return errors.New("boom")
	}
	c.connected = true
	return nil
}

func (c *brokenClient) Close() error {
	c.connected = false
	return nil
}

func (c *brokenClient) Connected() bool { return c.connected }

func (c *brokenClient) ListTools(context.Context) ([]ToolDef, error) {
	if c.failList {
		return nil, errors.New("tools/list failed")
	}
	return []ToolDef{{Name: "noop"}}, nil
}

func (c *brokenClient) CallTool(context.Context, string, json.RawMessage) (string, error) {
	return "", nil
}

func echoClient(name string) *InProcessClient {
	return NewInProcessClient(name).AddTool(
		ToolDef{Name: "echo"},
		func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	)
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	if err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	status, ok := r.Status("dev")
	if !ok || status != StatusConnected {
		t.Fatalf("Status = %v %v, want connected", status, ok)
	}

	snap := r.Snapshot()
	if len(snap.Tools()) != 1 {
		t.Fatalf("snapshot has %d tools, want 1", len(snap.Tools()))
	}
	if _, ok := snap.Resolve("dev", "echo"); !ok {
		t.Error("snapshot cannot resolve dev/echo")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	if err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev")); err != nil {
		t.Fatal(err)
	}
	err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev"))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register() = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterFailures(t *testing.T) {
	tests := []struct {
		name   string
		client *brokenClient
	}{
		{"connect failure", &brokenClient{name: "bad", failConnect: true}},
		{"list tools failure", &brokenClient{name: "bad", failList: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Register(context.Background(), models.ExtensionSpec{Name: "bad"}, tt.client)
			if err == nil {
				t.Fatal("expected registration error")
			}

			status, ok := r.Status("bad")
			if !ok || status != StatusFailed {
				t.Errorf("Status = %v %v, want failed", status, ok)
			}

			// Failed extensions contribute no tools to prompts.
			if n := len(r.Snapshot().Tools()); n != 0 {
				t.Errorf("snapshot has %d tools, want 0", n)
			}
		})
	}
}

func TestSnapshotToolOrderStable(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	web := NewInProcessClient("web")
	for _, name := range []string{"scrape", "fetch"} {
		web.AddTool(ToolDef{Name: name}, func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		})
	}
	if err := r.Register(ctx, models.ExtensionSpec{Name: "web"}, web); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev")); err != nil {
		t.Fatal(err)
	}

	want := []string{"dev/echo", "web/fetch", "web/scrape"}
	for i := 0; i < 5; i++ {
		var got []string
		for _, qt := range r.Snapshot().Tools() {
			got = append(got, qt.Extension+"/"+qt.Def.Name)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("snapshot %d tool order = %v, want %v", i, got, want)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	if err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev")); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()

	// Registration after the snapshot must not change it.
	if err := r.Register(ctx, models.ExtensionSpec{Name: "web"}, echoClient("web")); err != nil {
		t.Fatal(err)
	}
	if len(snap.Tools()) != 1 {
		t.Errorf("snapshot grew to %d tools after registration", len(snap.Tools()))
	}
	if len(r.Snapshot().Tools()) != 2 {
		t.Errorf("fresh snapshot has %d tools, want 2", len(r.Snapshot().Tools()))
	}
}

func TestDeregisterWaitsForInflight(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	client := NewInProcessClient("slow").AddTool(
		ToolDef{Name: "wait"},
		func(context.Context, json.RawMessage) (string, error) {
			close(started)
			<-finish
			return "done", nil
		},
	)
	if err := r.Register(ctx, models.ExtensionSpec{Name: "slow"}, client); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(r, DispatcherConfig{}, nil)
	snap := r.Snapshot()

	callDone := make(chan models.ToolResult, 1)
	go func() {
		callDone <- d.Execute(ctx, snap, models.ToolCall{ID: "tc-1", Extension: "slow", Tool: "wait"})
	}()
	<-started

	deregDone := make(chan struct{})
	go func() {
		r.Deregister("slow")
		close(deregDone)
	}()

	select {
	case <-deregDone:
		t.Fatal("Deregister returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	res := <-callDone
	if res.Outcome != models.OutcomeSuccess {
		t.Errorf("in-flight call outcome = %v, want success", res.Outcome)
	}

	select {
	case <-deregDone:
	case <-time.After(time.Second):
		t.Fatal("Deregister did not complete after calls drained")
	}
}

func TestCallAfterDeregisterUnavailable(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	if err := r.Register(ctx, models.ExtensionSpec{Name: "dev"}, echoClient("dev")); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if err := r.Deregister("dev"); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(r, DispatcherConfig{}, nil)
	res := d.Execute(ctx, snap, models.ToolCall{ID: "tc-1", Extension: "dev", Tool: "echo"})
	if res.Outcome != models.OutcomeError {
		t.Errorf("outcome = %v, want error", res.Outcome)
	}
	if res.ToolCallID != "tc-1" {
		t.Errorf("result correlated to %q, want tc-1", res.ToolCallID)
	}
}
