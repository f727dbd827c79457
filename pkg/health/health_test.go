package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

func fixed(s Status) Check {
	return func(context.Context) ComponentHealth { return ComponentHealth{Status: s} }
}

func TestRunReportsWorstStatus(t *testing.T) {
	c := NewChecker("dispatcher")
	c.Register("ok", fixed(StatusUp))
	c.Register("slow", fixed(StatusDegraded))
	if got := c.Run(context.Background()).Status; got != StatusDegraded {
		t.Errorf("status = %s, want degraded", got)
	}
	c.Register("dead", fixed(StatusDown))
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestOptionalDownOnlyDegrades(t *testing.T) {
	c := NewChecker("dispatcher")
	c.Register("nodes", fixed(StatusUp))
	c.RegisterOptional("redis", fixed(StatusDown))

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if comp := report.Components["redis"]; comp.Status != StatusDown || !comp.Optional {
		t.Errorf("redis component = %+v", comp)
	}
	if report.Process != "dispatcher" {
		t.Errorf("process = %q", report.Process)
	}
}

func TestPanickingCheckIsDown(t *testing.T) {
	c := NewChecker("node")
	c.Register("boom", func(context.Context) ComponentHealth { panic("bad") })
	if got := c.Run(context.Background()).Components["boom"]; got.Status != StatusDown || got.Latency == "" {
		t.Errorf("boom = %+v", got)
	}
}

func TestCheckTimeoutIsApplied(t *testing.T) {
	c := NewChecker("node")
	c.timeout = 10 * time.Millisecond
	c.Register("stuck", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return ComponentHealth{Status: StatusDown, Message: ctx.Err().Error()}
	})
	done := make(chan Report, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case r := <-done:
		if r.Status != StatusDown {
			t.Errorf("status = %s", r.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not honour the check timeout")
	}
}

func TestPeers(t *testing.T) {
	network := rpc.NewNetwork()
	network.Attach("a:7000", rpc.NewServer())
	network.Attach("b:7000", rpc.NewServer())
	addrs := map[string]string{"a": "a:7000", "b": "b:7000"}
	check := Peers(network, addrs, time.Second)

	if got := check(context.Background()); got.Status != StatusUp {
		t.Errorf("all attached: %+v", got)
	}
	network.Detach("b:7000")
	if got := check(context.Background()); got.Status != StatusDegraded || got.Message != "1/2 reachable, down: b" {
		t.Errorf("one detached: %+v", got)
	}
	network.Detach("a:7000")
	if got := check(context.Background()); got.Status != StatusDown {
		t.Errorf("none attached: %+v", got)
	}
	if got := Peers(network, nil, time.Second)(context.Background()); got.Status != StatusDegraded {
		t.Errorf("no peers: %+v", got)
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker("dispatcher")
	status := StatusUp
	c.Register("x", func(context.Context) ComponentHealth { return ComponentHealth{Status: status} })

	for _, tt := range []struct {
		status Status
		code   int
	}{
		{StatusUp, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusDown, http.StatusServiceUnavailable},
	} {
		status = tt.status
		rec := httptest.NewRecorder()
		c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rec.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.status, rec.Code, tt.code)
		}
		var report Report
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil || report.Status != tt.status {
			t.Errorf("%s: body status = %s, err = %v", tt.status, report.Status, err)
		}
	}
}
