package state

import (
	"testing"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
)

func TestGetBeforeFirstPublish(t *testing.T) {
	store := New()

	entry, ok := store.Get(probe.Key{Kind: probe.KindMonitor})
	if ok {
		t.Error("Get() before any publish must report ok == false")
	}
	if entry.Health != probe.HealthUnknown {
		t.Errorf("Health = %q, want unknown", entry.Health)
	}
}

func TestPublishReplacesEntry(t *testing.T) {
	store := New()
	key := probe.Key{Kind: probe.KindMonitor}

	store.Publish(probe.Result{Key: key, ObservedAt: time.Now(), Payload: "first"})
	store.Publish(probe.Result{
		Key:        key,
		ObservedAt: time.Now(),
		Err:        probe.Failuref(probe.ErrorConnect, "refused"),
	})

	entry, ok := store.Get(key)
	if !ok {
		t.Fatal("Get() after publish must report ok")
	}
	if entry.Health != probe.HealthDegraded {
		t.Errorf("Health = %q, want degraded", entry.Health)
	}
	if entry.Result.Payload != nil {
		t.Error("old payload survived the replacement")
	}
}

func TestObservedAtNeverMovesBackwards(t *testing.T) {
	store := New()
	key := probe.QueryKey("people")

	later := time.Now()
	earlier := later.Add(-time.Minute)

	store.Publish(probe.Result{Key: key, ObservedAt: later, Payload: "a"})
	store.Publish(probe.Result{Key: key, ObservedAt: earlier, Payload: "b"})

	entry, _ := store.Get(key)
	if entry.Result.ObservedAt.Before(later) {
		t.Errorf("ObservedAt moved backwards to %v", entry.Result.ObservedAt)
	}
	if entry.Result.Payload != "b" {
		t.Error("the newer publish must still win the payload")
	}
}

func TestSnapshotSortedByKey(t *testing.T) {
	store := New()
	store.Publish(probe.Result{Key: probe.QueryKey("zz"), ObservedAt: time.Now()})
	store.Publish(probe.Result{Key: probe.Key{Kind: probe.KindMonitor}, ObservedAt: time.Now()})
	store.Publish(probe.Result{Key: probe.Key{Kind: probe.KindDsctl}, ObservedAt: time.Now()})

	snapshot := store.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("got %d entries, want 3", len(snapshot))
	}
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i-1].Result.Key.String() > snapshot[i].Result.Key.String() {
			t.Errorf("snapshot out of order at %d: %s > %s",
				i, snapshot[i-1].Result.Key, snapshot[i].Result.Key)
		}
	}
}

func TestSnapshotNeverTearsAnEntry(t *testing.T) {
	store := New()
	key := probe.Key{Kind: probe.KindMonitor}
	base := time.Now()

	store.Publish(probe.Result{Key: key, ObservedAt: base, Payload: 0})

	done := make(chan struct{})
	go func() {
		defer close(done)
		// ObservedAt and Payload advance in lockstep so a torn entry
		// is detectable by the reader.
		for i := 1; i <= 1000; i++ {
			store.Publish(probe.Result{
				Key:        key,
				ObservedAt: base.Add(time.Duration(i) * time.Second),
				Payload:    i,
			})
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		for _, entry := range store.Snapshot() {
			i := entry.Result.Payload.(int)
			if expected := base.Add(time.Duration(i) * time.Second); !entry.Result.ObservedAt.Equal(expected) {
				t.Fatalf("torn entry: payload %d paired with ObservedAt %v", i, entry.Result.ObservedAt)
			}
		}
	}
}

func TestSubscribersSeeEveryPublish(t *testing.T) {
	store := New()

	var seen []probe.Key
	store.Subscribe(func(entry Entry) {
		seen = append(seen, entry.Result.Key)
	})

	store.Publish(probe.Result{Key: probe.Key{Kind: probe.KindMonitor}, ObservedAt: time.Now()})
	store.Publish(probe.Result{Key: probe.QueryKey("people"), ObservedAt: time.Now()})

	if len(seen) != 2 {
		t.Fatalf("subscriber saw %d publishes, want 2", len(seen))
	}
	if seen[0].Kind != probe.KindMonitor || seen[1].Query != "people" {
		t.Errorf("subscriber saw %v", seen)
	}
}
