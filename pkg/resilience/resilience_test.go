package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDown = errors.New("connection refused")

func TestCircuitBreakerLifecycle(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	var transitions []string
	cb := NewCircuitBreaker("node-a", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		Now:              clk.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	fail := func() error { return errDown }
	ok := func() error { return nil }

	cb.Execute(fail)
	if cb.GetState() != StateClosed {
		t.Fatal("opened before threshold")
	}
	cb.Execute(fail)
	if cb.GetState() != StateOpen {
		t.Fatal("did not open at threshold")
	}
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker let a call through: %v", err)
	}

	clk.Advance(time.Second)
	if err := cb.Execute(fail); !errors.Is(err, errDown) {
		t.Fatalf("trial error = %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatal("failed trial did not reopen")
	}

	clk.Advance(time.Second)
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatal("successful trial did not close")
	}

	want := []string{"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	errRemote := errors.New("invalid input")
	cb := NewCircuitBreaker("node-a", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errRemote) },
	})
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errRemote }); !errors.Is(err, errRemote) {
			t.Fatalf("error = %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreakerLimitsHalfOpenTrials(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("node-a", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, Now: clk.Now})
	cb.Execute(func() error { return errDown })
	clk.Advance(time.Second)

	release := make(chan struct{})
	probing := make(chan struct{})
	go cb.Execute(func() error {
		close(probing)
		<-release
		return nil
	})
	<-probing
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial error = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", fast, func() error {
			calls++
			if calls < 3 {
				return errDown
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", fast, func() error { calls++; return errDown })
		if !errors.Is(err, errDown) || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		permanent := errors.New("rejected")
		cfg := fast
		cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
		calls := 0
		err := Retry(context.Background(), "op", cfg, func() error { calls++; return permanent })
		if err != permanent || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("aborts on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}
		err := Retry(ctx, "op", cfg, func() error { cancel(); return errDown })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}.withDefaults()
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt, cfg)
		if d < 5*time.Millisecond || d > 50*time.Millisecond {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestCallTimesOut(t *testing.T) {
	_, err := Call(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	v, err := Call(context.Background(), time.Second, "fast", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Call = %d, %v", v, err)
	}
}
