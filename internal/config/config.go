// Package config loads and validates the TOML configuration shared by the
// exporter, agent and check commands.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

// Defaults mirrored from the original deployment tooling.
const (
	DefaultScrapeIntervalSeconds = 5
	DefaultExporterPort          = 9100
	DefaultAgentPort             = 6699
	DefaultExposeAddress         = "0.0.0.0"
	DefaultLdapURI               = "ldap://localhost"
	DefaultDsctlTimeoutSeconds   = 60
)

// Bind holds simple-bind credentials.
type Bind struct {
	DN   string `toml:"dn"`
	Pass string `toml:"pass"`
}

// LDAP is the shared directory connection configuration.
type LDAP struct {
	URI         string `toml:"ldap_uri"`
	VerifyCerts bool   `toml:"verify_certs"`
	PageSize    uint32 `toml:"page_size"`
	DefaultBase string `toml:"default_query_base"`
	Bind        *Bind  `toml:"bind"`
}

// ClientConfig builds the ldapx client configuration.
func (l LDAP) ClientConfig() ldapx.Config {
	cfg := ldapx.Config{
		URI:         l.URI,
		VerifyCerts: l.VerifyCerts,
		PageSize:    l.PageSize,
		BaseDN:      l.DefaultBase,
	}
	if l.Bind != nil {
		cfg.BindDN = l.Bind.DN
		cfg.BindPassword = l.Bind.Pass
	}
	return cfg
}

// ScrapeFlags enable or disable individual probes. The probe set is
// computed once at startup from these flags.
type ScrapeFlags struct {
	LdapMonitoring    bool `toml:"ldap_monitoring"`
	ReplicationStatus bool `toml:"replication_status"`
	GidsInfo          bool `toml:"gids_info"`
	Dsctl             bool `toml:"dsctl"`
}

// Intervals hold per-probe scrape intervals in seconds. Zero means "use
// the global scrape_interval_seconds".
type Intervals struct {
	Monitor     uint64 `toml:"ldap_monitoring"`
	Replication uint64 `toml:"replication_status"`
	Gids        uint64 `toml:"gids_info"`
	Dsctl       uint64 `toml:"dsctl"`
}

// Dsctl configures the external healthcheck command.
type Dsctl struct {
	TimeoutSeconds uint64 `toml:"timeout_seconds"`
	Instance       string `toml:"instance"`
}

// Query is one custom directory query, registered as its own probe with
// its own interval and optional connection overrides.
type Query struct {
	Name            string   `toml:"name"`
	Filter          string   `toml:"filter"`
	Attrs           []string `toml:"attrs"`
	MaxEntries      int      `toml:"max_entries"`
	IntervalSeconds uint64   `toml:"interval_seconds"`

	// Optional per-query overrides of the shared LDAP settings.
	URI         string `toml:"uri"`
	Bind        *Bind  `toml:"bind"`
	PageSize    uint32 `toml:"page_size"`
	DefaultBase string `toml:"default_base"`
	VerifyCerts *bool  `toml:"verify_certs"`
}

// ClientConfig merges the query overrides over the shared LDAP settings.
func (q Query) ClientConfig(base ldapx.Config) ldapx.Config {
	cfg := base
	if q.URI != "" {
		cfg.URI = q.URI
	}
	if q.PageSize != 0 {
		cfg.PageSize = q.PageSize
	}
	if q.DefaultBase != "" {
		cfg.BaseDN = q.DefaultBase
	}
	if q.Bind != nil {
		cfg.BindDN = q.Bind.DN
		cfg.BindPassword = q.Bind.Pass
	}
	if q.VerifyCerts != nil {
		cfg.VerifyCerts = *q.VerifyCerts
	}
	return cfg
}

// Exporter configures the metrics endpoint.
type Exporter struct {
	ExposeAddress string `toml:"expose_address"`
	ExposePort    uint16 `toml:"expose_port"`
}

// Agent configures the agent-check TCP responder and its admin API.
type Agent struct {
	ExposeAddress string `toml:"expose_address"`
	ExposePort    uint16 `toml:"expose_port"`
	AdminPort     uint16 `toml:"admin_port"`
}

// History configures the optional probe-result history recorder.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config is the full configuration file.
type Config struct {
	LDAP LDAP `toml:"ldap"`

	ScrapeIntervalSeconds uint64      `toml:"scrape_interval_seconds"`
	ScrapeFlags           ScrapeFlags `toml:"scrape_flags"`
	Intervals             Intervals   `toml:"intervals"`

	Dsctl   Dsctl    `toml:"dsctl"`
	Queries []Query  `toml:"query"`
	Export  Exporter `toml:"exporter"`
	Agent   Agent    `toml:"agent"`
	History History  `toml:"history"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LDAP: LDAP{
			URI:         DefaultLdapURI,
			VerifyCerts: true,
			PageSize:    ldapx.DefaultPageSize,
		},
		ScrapeIntervalSeconds: DefaultScrapeIntervalSeconds,
		ScrapeFlags: ScrapeFlags{
			LdapMonitoring:    true,
			ReplicationStatus: true,
		},
		Dsctl: Dsctl{
			TimeoutSeconds: DefaultDsctlTimeoutSeconds,
			Instance:       "default",
		},
		Export: Exporter{
			ExposeAddress: DefaultExposeAddress,
			ExposePort:    DefaultExporterPort,
		},
		Agent: Agent{
			ExposeAddress: DefaultExposeAddress,
			ExposePort:    DefaultAgentPort,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler would refuse anyway, so
// operators hear about them before any probe runs.
func (c Config) Validate() error {
	if c.ScrapeIntervalSeconds == 0 {
		return fmt.Errorf("scrape_interval_seconds must be positive")
	}

	seen := make(map[string]struct{}, len(c.Queries))
	for _, q := range c.Queries {
		if q.Name == "" {
			return fmt.Errorf("query with filter %q has no name", q.Filter)
		}
		if q.Filter == "" {
			return fmt.Errorf("query %q has no filter", q.Name)
		}
		if _, dup := seen[q.Name]; dup {
			return fmt.Errorf("duplicate query name %q", q.Name)
		}
		seen[q.Name] = struct{}{}
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

// Interval resolves a per-probe interval seconds value against the global
// default.
func (c Config) Interval(seconds uint64) time.Duration {
	if seconds == 0 {
		seconds = c.ScrapeIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// DsctlTimeout returns the external command deadline.
func (c Config) DsctlTimeout() time.Duration {
	return time.Duration(c.Dsctl.TimeoutSeconds) * time.Second
}
