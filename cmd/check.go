package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
	"github.com/Dzordzu/o11y-389ds/internal/nagios"
	"github.com/Dzordzu/o11y-389ds/internal/probe"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a one-shot monitoring-plugin check",
	Long: `Check subcommands probe the directory once, print a single status
line ("OK: ... | perfdata") and exit 0, 1, 2 or 3 for OK, warning,
critical or unknown. Any probe error maps to unknown.`,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.PersistentFlags().Uint64("timeout", 30, "Overall check timeout in seconds")
}

type checkBody func(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error

// runCheck wraps a check body with the plugin output contract: one
// status line on stdout and the matching exit code, never a bare error.
func runCheck(body checkBody) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		result := &nagios.Result{}

		cfg, err := loadConfig(cmd)
		if err == nil {
			timeout, _ := cmd.Flags().GetUint64("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
			defer cancel()
			err = body(ctx, cfg, cmd, result)
		}
		if err != nil {
			result.Fail(err)
		}

		result.Exit()
		return nil
	}
}

// limit reads an optional threshold flag. Unset flags disable the
// comparison entirely rather than comparing against zero.
func limit(cmd *cobra.Command, name string) nagios.Limit {
	if !cmd.Flags().Changed(name) {
		return nagios.Limit{}
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return nagios.Limit{Value: v, Set: true}
}

func scrapeMonitor(ctx context.Context, cfg config.Config) (*probe.MonitorPayload, error) {
	p := &probe.MonitorProbe{Connect: cfg.LDAP.ClientConfig().Connector()}
	payload, err := p.Probe(ctx)
	if err != nil {
		return nil, err
	}
	return payload.(*probe.MonitorPayload), nil
}

func scrapeReplication(ctx context.Context, cfg config.Config) (*probe.ReplicationPayload, error) {
	p := &probe.ReplicationProbe{Connect: cfg.LDAP.ClientConfig().Connector()}
	payload, err := p.Probe(ctx)
	if err != nil {
		return nil, err
	}
	return payload.(*probe.ReplicationPayload), nil
}

// queryBase resolves the search base for gid and query checks, falling
// back to root DSE autodetection.
func queryBase(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.LDAP.DefaultBase != "" {
		return cfg.LDAP.DefaultBase, nil
	}
	dn, err := ldapx.DetectBase(ctx, cfg.LDAP.ClientConfig())
	if err != nil {
		return "", fmt.Errorf("base DN autodetection failed: %w", err)
	}
	return dn, nil
}
