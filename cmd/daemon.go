package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/dsctl"
	"github.com/Dzordzu/o11y-389ds/internal/history"
	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/scheduler"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

// buildScheduler registers every enabled probe. The probe set is fixed
// for the lifetime of the daemon.
func buildScheduler(ctx context.Context, cfg config.Config, store *state.Store) (*scheduler.Scheduler, error) {
	base := cfg.LDAP.ClientConfig()

	needsBase := cfg.ScrapeFlags.GidsInfo || len(cfg.Queries) > 0
	if needsBase && base.BaseDN == "" {
		dn, err := ldapx.DetectBase(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("base DN autodetection failed: %w", err)
		}
		slog.Info("detected default search base", "base", dn)
		base.BaseDN = dn
	}

	connect := base.Connector()
	sched := scheduler.New(store)

	if cfg.ScrapeFlags.LdapMonitoring {
		err := sched.Register(&probe.MonitorProbe{Connect: connect}, cfg.Interval(cfg.Intervals.Monitor))
		if err != nil {
			return nil, err
		}
	}
	if cfg.ScrapeFlags.ReplicationStatus {
		err := sched.Register(&probe.ReplicationProbe{Connect: connect}, cfg.Interval(cfg.Intervals.Replication))
		if err != nil {
			return nil, err
		}
	}
	if cfg.ScrapeFlags.GidsInfo {
		err := sched.Register(&probe.GidsProbe{Connect: connect, Base: base.BaseDN}, cfg.Interval(cfg.Intervals.Gids))
		if err != nil {
			return nil, err
		}
	}
	if cfg.ScrapeFlags.Dsctl {
		guard := dsctl.NewGuard(dsctl.ExecRunner{}, cfg.Dsctl.Instance, cfg.DsctlTimeout())
		err := sched.Register(&dsctl.HealthProbe{Guard: guard}, cfg.Interval(cfg.Intervals.Dsctl))
		if err != nil {
			return nil, err
		}
	}

	for _, q := range cfg.Queries {
		qc := q.ClientConfig(base)
		p := &probe.QueryProbe{
			Connect:    qc.Connector(),
			Name:       q.Name,
			Base:       qc.BaseDN,
			Filter:     q.Filter,
			Attrs:      q.Attrs,
			MaxEntries: q.MaxEntries,
		}
		if err := sched.Register(p, cfg.Interval(q.IntervalSeconds)); err != nil {
			return nil, err
		}
	}

	if sched.Len() == 0 {
		return nil, fmt.Errorf("no probes enabled, nothing to do")
	}

	slog.Info("probe set assembled", "probes", sched.Len())
	return sched, nil
}

// openHistory attaches the history recorder to the store when enabled.
// Returns nil when history is disabled.
func openHistory(ctx context.Context, cfg config.Config, store *state.Store) (*history.Recorder, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	recorder, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	store.Subscribe(recorder.Hook())
	return recorder, nil
}
