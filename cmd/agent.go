package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dzordzu/o11y-389ds/internal/agent"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the HAProxy agent-check responder",
	Long: `The agent daemon schedules the configured probes and answers every
TCP connection with a single agent-check line (up, down, maint, ...)
derived from the latest probe results and the operator marks.

Operator marks (drain, maintenance, hard maintenance, stop) are set
through the HTTP admin API on the admin port.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().String("listen", "", "Listen address, overrides agent.expose_address/port")
	agentCmd.Flags().Uint16("admin-port", 0, "Admin API port, overrides agent.admin_port (0 disables)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Agent.ExposeAddress, cfg.Agent.ExposePort)
	}

	adminPort := cfg.Agent.AdminPort
	if p, _ := cmd.Flags().GetUint16("admin-port"); p != 0 {
		adminPort = p
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

	server := agent.NewServer(store, addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error { return server.Run(ctx) })
	if adminPort != 0 {
		adminAddr := fmt.Sprintf("%s:%d", cfg.Agent.ExposeAddress, adminPort)
		g.Go(func() error { return server.RunAdmin(ctx, adminAddr) })
	}
	if recorder != nil {
		g.Go(func() error { return recorder.Run(ctx) })
	}

	return g.Wait()
}
