package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// stubProbe counts executions and returns a configurable outcome.
type stubProbe struct {
	key   probe.Key
	runs  atomic.Int64
	fail  error
	panic bool
}

func (p *stubProbe) Key() probe.Key { return p.key }

func (p *stubProbe) Probe(ctx context.Context) (any, error) {
	p.runs.Add(1)
	if p.panic {
		panic("boom")
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return "payload", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRegisterRejectsBadInterval(t *testing.T) {
	s := New(state.New())
	err := s.Register(&stubProbe{key: probe.Key{Kind: probe.KindMonitor}}, 0)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a ConfigError, got %v", err)
	}
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	s := New(state.New())
	key := probe.QueryKey("people")

	if err := s.Register(&stubProbe{key: key}, time.Second); err != nil {
		t.Fatalf("first Register() returned %v", err)
	}
	err := s.Register(&stubProbe{key: key}, time.Second)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a ConfigError for the duplicate, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRegisterAfterStartFails(t *testing.T) {
	store := state.New()
	s := New(store)
	if err := s.Register(&stubProbe{key: probe.Key{Kind: probe.KindMonitor}}, time.Hour); err != nil {
		t.Fatalf("Register() returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if err := s.Register(&stubProbe{key: probe.Key{Kind: probe.KindDsctl}}, time.Hour); err == nil {
		t.Error("Register() after Start() must fail")
	}
}

func TestProbeOutcomesReachTheStore(t *testing.T) {
	store := state.New()
	s := New(store)

	okKey := probe.Key{Kind: probe.KindMonitor}
	failKey := probe.QueryKey("broken")

	s.Register(&stubProbe{key: okKey}, time.Hour)
	s.Register(&stubProbe{key: failKey, fail: errors.New("no route to host")}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, func() bool {
		_, ok1 := store.Get(okKey)
		_, ok2 := store.Get(failKey)
		return ok1 && ok2
	})

	okEntry, _ := store.Get(okKey)
	if okEntry.Health != probe.HealthHealthy {
		t.Errorf("ok probe health = %q, want healthy", okEntry.Health)
	}

	failEntry, _ := store.Get(failKey)
	if failEntry.Health != probe.HealthDegraded {
		t.Errorf("failing probe health = %q, want degraded", failEntry.Health)
	}
	if failEntry.Result.Err == nil || failEntry.Result.Err.Kind != probe.ErrorInternal {
		t.Errorf("failing probe error = %+v, want internal", failEntry.Result.Err)
	}
}

func TestPanicBecomesFailedResult(t *testing.T) {
	store := state.New()
	s := New(store)
	key := probe.Key{Kind: probe.KindGids}

	s.Register(&stubProbe{key: key, panic: true}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, func() bool {
		_, ok := store.Get(key)
		return ok
	})

	entry, _ := store.Get(key)
	if entry.Result.Err == nil || entry.Result.Err.Kind != probe.ErrorInternal {
		t.Fatalf("panic did not surface as an internal failure: %+v", entry.Result.Err)
	}
}

func TestTasksKeepRunning(t *testing.T) {
	store := state.New()
	s := New(store)
	p := &stubProbe{key: probe.Key{Kind: probe.KindMonitor}}

	s.Register(p, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, func() bool { return p.runs.Load() >= 3 })
}

func TestStopIsIdempotent(t *testing.T) {
	store := state.New()
	s := New(store)
	s.Register(&stubProbe{key: probe.Key{Kind: probe.KindMonitor}}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Stop()
	s.Stop()
}
