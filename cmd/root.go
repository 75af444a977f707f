package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/Dzordzu/o11y-389ds/cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "o11y-389ds",
	Short: "389 Directory Server monitoring toolkit",
	Long: `o11y-389ds watches a 389 Directory Server instance through periodic
probes (cn=monitor, replication agreements, gid consistency, custom
queries, dsctl healthchecks) and exposes the results as Prometheus
metrics, an HAProxy agent-check responder, or one-shot plugin checks.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Path to the TOML configuration file")
	pf.StringP("host", "H", "", "LDAP URI, e.g. ldaps://ds.example.com")
	pf.StringP("binddn", "D", "", "Bind DN for simple bind")
	pf.StringP("bindpass", "w", "", "Bind password (or BIND_PASSWORD env var)")
	pf.StringP("basedn", "b", "", "Default search base for gid and query probes")
	pf.Uint32P("page-size", "P", 0, "Paged-search page size")
	pf.BoolP("skip-cert-verification", "C", false, "Do not verify TLS certificates")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q", name)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	return nil
}

// loadConfig reads the configuration file (or the defaults) and layers
// the connection flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if host, _ := flags.GetString("host"); host != "" {
		cfg.LDAP.URI = host
	}
	if base, _ := flags.GetString("basedn"); base != "" {
		cfg.LDAP.DefaultBase = base
	}
	if pageSize, _ := flags.GetUint32("page-size"); pageSize != 0 {
		cfg.LDAP.PageSize = pageSize
	}
	if skip, _ := flags.GetBool("skip-cert-verification"); skip {
		cfg.LDAP.VerifyCerts = false
	}
	if bindDN, _ := flags.GetString("binddn"); bindDN != "" {
		pass, _ := flags.GetString("bindpass")
		if pass == "" {
			pass = os.Getenv("BIND_PASSWORD")
		}
		if pass == "" {
			return cfg, fmt.Errorf("binddn %q given without a password (use --bindpass or BIND_PASSWORD)", bindDN)
		}
		cfg.LDAP.Bind = &config.Bind{DN: bindDN, Pass: pass}
	}

	return cfg, cfg.Validate()
}
