package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

func openRecorder(t *testing.T) *Recorder {
	t.Helper()
	recorder, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() returned %v", err)
	}
	t.Cleanup(func() { recorder.db.Close() })
	return recorder
}

func TestInsertAndReadBack(t *testing.T) {
	recorder := openRecorder(t)
	ctx := context.Background()

	ok := state.Entry{
		Result: probe.Result{
			Key:        probe.Key{Kind: probe.KindMonitor},
			ObservedAt: time.Unix(1700000000, 0),
			Payload:    map[string]uint64{"currentconnections": 2},
		},
		Health: probe.HealthHealthy,
	}
	failed := state.Entry{
		Result: probe.Result{
			Key:        probe.QueryKey("people"),
			ObservedAt: time.Unix(1700000060, 0),
			Err:        probe.Failuref(probe.ErrorTimeout, "deadline exceeded"),
		},
		Health: probe.HealthDegraded,
	}

	if err := recorder.insert(ctx, ok); err != nil {
		t.Fatalf("insert ok entry: %v", err)
	}
	if err := recorder.insert(ctx, failed); err != nil {
		t.Fatalf("insert failed entry: %v", err)
	}

	var count int
	if err := recorder.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM probe_results`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}

	var health, errorKind string
	err := recorder.db.QueryRowContext(ctx,
		`SELECT health, error_kind FROM probe_results WHERE probe = ?`,
		"query:people").Scan(&health, &errorKind)
	if err != nil {
		t.Fatal(err)
	}
	if health != "degraded" || errorKind != "timeout" {
		t.Errorf("stored (%q, %q), want (degraded, timeout)", health, errorKind)
	}

	var payload string
	err = recorder.db.QueryRowContext(ctx,
		`SELECT payload FROM probe_results WHERE probe = ?`,
		"monitor").Scan(&payload)
	if err != nil {
		t.Fatal(err)
	}
	if payload != `{"currentconnections":2}` {
		t.Errorf("stored payload %q", payload)
	}
}

func TestHookNeverBlocks(t *testing.T) {
	recorder := openRecorder(t)
	hook := recorder.Hook()

	entry := state.Entry{
		Result: probe.Result{Key: probe.Key{Kind: probe.KindMonitor}, ObservedAt: time.Now()},
		Health: probe.HealthHealthy,
	}

	// Nothing drains the channel here, so this overfills the buffer; the
	// overflow must be dropped, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hook(entry)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hook blocked on a full buffer")
	}
}
