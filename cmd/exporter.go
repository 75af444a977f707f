package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dzordzu/o11y-389ds/internal/exporter"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Run the Prometheus exporter daemon",
	Long: `The exporter schedules the configured probes and serves their latest
results on /metrics. Probe failures are reported through the
ds389_probe_healthy and ds389_probe_error series instead of failing
the scrape.`,
	RunE: runExporter,
}

func init() {
	rootCmd.AddCommand(exporterCmd)

	exporterCmd.Flags().String("listen", "", "Listen address, overrides exporter.expose_address/port")
}

func runExporter(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Export.ExposeAddress, cfg.Export.ExposePort)
	}

	store := state.New()

	recorder, err := openHistory(ctx, cfg, store)
	if err != nil {
		return err
	}

	sched, err := buildScheduler(ctx, cfg, store)
	if err != nil {
		return err
	}

	server := exporter.New(store, prometheus.NewRegistry(), addr, cfg.Dsctl.Instance, cfg.ScrapeIntervalSeconds)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error { return server.Run(ctx) })
	if recorder != nil {
		g.Go(func() error { return recorder.Run(ctx) })
	}

	return g.Wait()
}
