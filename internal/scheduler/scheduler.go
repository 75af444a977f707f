// Package scheduler drives one independently-timed repeating task per
// registered probe and publishes every outcome into the state store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// ConfigError is a fatal registration error: bad interval or duplicate
// key. It only occurs at startup.
type ConfigError struct {
	Key    probe.Key
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("probe %s: %s", e.Key, e.Reason)
}

type task struct {
	prober   probe.Prober
	interval time.Duration
}

// Scheduler owns the set of probe tasks. The set is fixed once Start is
// called; enabling and disabling probes is a configuration-time decision.
type Scheduler struct {
	store *state.Store

	mu      sync.Mutex
	tasks   map[probe.Key]*task
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Scheduler publishing into store.
func New(store *state.Store) *Scheduler {
	return &Scheduler{
		store: store,
		tasks: make(map[probe.Key]*task),
		stop:  make(chan struct{}),
	}
}

// Register adds a repeating task for p.
func (s *Scheduler) Register(p probe.Prober, interval time.Duration) error {
	key := p.Key()
	if interval <= 0 {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("interval must be positive, got %s", interval)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return &ConfigError{Key: key, Reason: "scheduler already started"}
	}
	if _, dup := s.tasks[key]; dup {
		return &ConfigError{Key: key, Reason: "already registered"}
	}
	s.tasks[key] = &task{prober: p, interval: interval}
	return nil
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Start launches one goroutine per registered task. Each task runs its
// probe, publishes the result, then waits interval from the end of the
// run; a slow probe delays only itself and never piles up catch-up runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.runTask(ctx, t)
	}

	slog.Info("scheduler started", "tasks", len(tasks))
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	defer s.wg.Done()

	key := t.prober.Key()
	timer := time.NewTimer(0)
	defer timer.Stop()
	// Drain the immediate first fire so the reset below is clean.
	<-timer.C

	for {
		s.runOnce(ctx, t)

		timer.Reset(t.interval)
		select {
		case <-timer.C:
		case <-s.stop:
			slog.Debug("probe task stopped", "probe", key)
			return
		case <-ctx.Done():
			return
		}
	}
}

// runOnce executes the probe with failures contained at the task
// boundary: errors and panics both become Failed results, never a dead
// task.
func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	key := t.prober.Key()

	payload, err := func() (payload any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = probe.Failuref(probe.ErrorInternal, "probe panicked: %v\n%s", r, debug.Stack())
			}
		}()
		return t.prober.Probe(ctx)
	}()

	res := probe.Result{Key: key, ObservedAt: time.Now()}
	if err != nil {
		res.Err = probe.Classify(err)
		slog.Error("probe failed", "probe", key, "kind", res.Err.Kind, "detail", res.Err.Detail)
	} else {
		res.Payload = payload
		slog.Debug("probe completed", "probe", key)
	}

	s.store.Publish(res)
}

// Stop signals all tasks to finish their in-flight execution and exit,
// then waits for them. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
