package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelayGrowth(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, 100 * time.Millisecond},
		{"second doubles", 2, 200 * time.Millisecond},
		{"third doubles again", 3, 400 * time.Millisecond},
		{"fifth", 5, 1600 * time.Millisecond},
		{"deep attempt clamps to max", 20, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.delay(tt.attempt, 0); got != tt.want {
				t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPolicyDelayJitter(t *testing.T) {
	p := DefaultPolicy()

	// Full jitter adds Jitter*base on top of the base delay.
	if got, want := p.delay(1, 1.0), 110*time.Millisecond; got != want {
		t.Errorf("delay(1) with full jitter = %v, want %v", got, want)
	}
	// Jitter never pushes past the cap.
	if got := p.delay(20, 1.0); got != p.Max {
		t.Errorf("delay(20) with full jitter = %v, want %v", got, p.Max)
	}
}

func TestPolicyZeroValueGetsDefaults(t *testing.T) {
	var p Policy
	if got := p.delay(1, 0); got != 100*time.Millisecond {
		t.Errorf("zero policy delay(1) = %v, want 100ms", got)
	}
}

func TestPolicySleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Initial: time.Hour}
	start := time.Now()
	if err := p.Sleep(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep() blocked %v after cancellation", elapsed)
	}
}

// fastPolicy keeps retry tests quick.
func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2}
}

func TestRetryStopsOnUnretryableError(t *testing.T) {
	permanent := errors.New("bad credentials")
	calls := 0

	_, err := Retry(context.Background(), fastPolicy(), 5,
		func(error) bool { return false },
		func() (int, error) {
			calls++
			return 0, permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
}

func TestRetryRecovers(t *testing.T) {
	flaky := errors.New("connection reset")
	calls := 0

	v, err := Retry(context.Background(), fastPolicy(), 5,
		func(error) bool { return true },
		func() (string, error) {
			calls++
			if calls < 3 {
				return "", flaky
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", v, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	flaky := errors.New("still flaky")
	calls := 0

	_, err := Retry(context.Background(), fastPolicy(), 3, nil,
		func() (int, error) {
			calls++
			return 0, flaky
		})
	if !errors.Is(err, flaky) {
		t.Fatalf("err = %v, want the last error", err)
	}
	if calls != 3 {
		t.Errorf("fn ran %d times, want 3", calls)
	}
}

func TestRetryCancelledMidWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	flaky := errors.New("flaky")
	calls := 0

	_, err := Retry(ctx, Policy{Initial: time.Hour}, 3, nil,
		func() (int, error) {
			calls++
			cancel()
			return 0, flaky
		})
	if !errors.Is(err, flaky) {
		t.Fatalf("err = %v, want the last error rather than the cancellation", err)
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
}
