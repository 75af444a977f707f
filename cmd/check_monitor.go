package cmd

import (
	"context"
	"fmt"
	"slices"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/nagios"
)

var checkIntMetricCmd = &cobra.Command{
	Use:   "int-metric",
	Short: "Check a single numeric cn=monitor or SNMP counter",
	RunE:  runCheck(checkIntMetric),
}

var checkConnectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Check the number of open connections, with DN and IP filters",
	RunE:  runCheck(checkConnections),
}

var checkErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Check the error counters from the SNMP monitor",
	RunE:  runCheck(checkErrors),
}

var checkRecentRestartCmd = &cobra.Command{
	Use:   "recent-restart",
	Short: "Warn when the server restarted recently",
	RunE:  runCheck(checkRecentRestart),
}

var checkDiskSpaceCmd = &cobra.Command{
	Use:   "disk-space",
	Short: "Check disk space as reported by the directory server",
	RunE:  runCheck(checkDiskSpace),
}

func init() {
	checkCmd.AddCommand(checkIntMetricCmd, checkConnectionsCmd, checkErrorsCmd,
		checkRecentRestartCmd, checkDiskSpaceCmd)

	f := checkIntMetricCmd.Flags()
	f.String("source", "monitor", `Metric source, "monitor" or "snmp"`)
	f.String("metric", "", "Metric name, e.g. currentconnections")
	f.Float64("warn", 0, "Warning threshold")
	f.Float64("crit", 0, "Critical threshold")
	f.Bool("revert-comparison", false, "Alert when the value is at or below the threshold")
	checkIntMetricCmd.MarkFlagRequired("metric")

	f = checkConnectionsCmd.Flags()
	f.Float64("warn", 0, "Warning threshold")
	f.Float64("crit", 0, "Critical threshold")
	f.StringSlice("dn", nil, "Only count connections bound as these DNs")
	f.StringSlice("ip", nil, "Only count connections from these IP addresses")
	f.StringSlice("exclude-dn", nil, "Skip connections bound as these DNs")
	f.StringSlice("exclude-ip", nil, "Skip connections from these IP addresses")
	f.Bool("skip-integrity", false, "Skip the cross-check between counted, cn=monitor and SNMP connection numbers")

	f = checkErrorsCmd.Flags()
	f.Float64("warn-sum", 0, "Warning threshold for the sum of all error counters")
	f.Float64("crit-sum", 0, "Critical threshold for the sum of all error counters")
	f.Float64("warn", 0, "Warning threshold per error counter")
	f.Float64("crit", 0, "Critical threshold per error counter")
	f.StringSlice("names", nil, "Only include these error counters")

	f = checkRecentRestartCmd.Flags()
	f.Float64("warn-if-less-than", 0, "Warn when the last restart is fewer than this many seconds ago")

	f = checkDiskSpaceCmd.Flags()
	f.Float64("warn-percent-used", 0, "Warning threshold for used space percentage")
	f.Float64("crit-percent-used", 0, "Critical threshold for used space percentage")
	f.Float64("warn-absolute-available", 0, "Warning threshold for available bytes (alert at or below)")
	f.Float64("crit-absolute-available", 0, "Critical threshold for available bytes (alert at or below)")
	f.StringSlice("partitions", nil, "Only include these partitions")
}

func checkIntMetric(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	source, _ := cmd.Flags().GetString("source")
	metric, _ := cmd.Flags().GetString("metric")
	revert, _ := cmd.Flags().GetBool("revert-comparison")
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")

	payload, err := scrapeMonitor(ctx, cfg)
	if err != nil {
		return err
	}

	var value float64
	switch source {
	case "monitor":
		v, ok := payload.Counters[metric]
		if !ok {
			return fmt.Errorf("no metric %q in cn=monitor", metric)
		}
		value = float64(v)
	case "snmp":
		v, ok := payload.SNMP[metric]
		if !ok {
			return fmt.Errorf("no metric %q in cn=snmp,cn=monitor", metric)
		}
		value = float64(v)
	default:
		return fmt.Errorf("unknown metric source %q", source)
	}

	unit := ""
	if strings.Contains(metric, "bytes") {
		unit = "B"
	}

	result.Describef("%s_%s", source, metric)
	result.Add("value", nagios.PerfData{
		Value: nagios.Float(value),
		Warn:  warn.PerfValue(),
		Crit:  crit.PerfValue(),
		Unit:  unit,
	})

	if revert {
		result.WarnAtMost(value, warn)
		result.CritAtMost(value, crit)
	} else {
		result.WarnAtLeast(value, warn)
		result.CritAtLeast(value, crit)
	}
	return nil
}

func checkConnections(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	flags := cmd.Flags()
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")
	dns, _ := flags.GetStringSlice("dn")
	ips, _ := flags.GetStringSlice("ip")
	excludeDNs, _ := flags.GetStringSlice("exclude-dn")
	excludeIPs, _ := flags.GetStringSlice("exclude-ip")
	skipIntegrity, _ := flags.GetBool("skip-integrity")

	payload, err := scrapeMonitor(ctx, cfg)
	if err != nil {
		return err
	}

	if !skipIntegrity {
		counted := uint64(len(payload.Connections))
		reported := payload.Counters["currentconnections"]
		snmp := uint64(payload.SNMP["connections"])

		if counted != reported || reported != snmp {
			result.Add("reported_connections", nagios.PerfData{Value: nagios.Int(reported)})
			result.Add("reported_connections_snmp", nagios.PerfData{Value: nagios.Int(snmp)})
			result.Add("counted", nagios.PerfData{Value: nagios.Int(counted)})
			return fmt.Errorf("inconsistent number of connections between reported values")
		}
	}

	lower := func(values []string) []string {
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = strings.ToLower(v)
		}
		return out
	}
	dns, excludeDNs = lower(dns), lower(excludeDNs)

	var matched uint64
	for _, conn := range payload.Connections {
		dn := strings.ToLower(conn.DN)
		if len(dns) > 0 && !slices.Contains(dns, dn) {
			continue
		}
		if len(ips) > 0 && !slices.Contains(ips, conn.IP) {
			continue
		}
		if slices.Contains(excludeDNs, dn) || slices.Contains(excludeIPs, conn.IP) {
			continue
		}
		matched++
	}

	result.Describef("389ds reported connections")
	result.Add("connections", nagios.PerfData{
		Value: nagios.Int(matched),
		Warn:  warn.PerfValue(),
		Crit:  crit.PerfValue(),
		Min:   nagios.Int(0),
	})
	result.WarnAtLeast(float64(matched), warn)
	result.CritAtLeast(float64(matched), crit)
	return nil
}

func checkErrors(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warnSum, critSum := limit(cmd, "warn-sum"), limit(cmd, "crit-sum")
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")
	names, _ := cmd.Flags().GetStringSlice("names")

	payload, err := scrapeMonitor(ctx, cfg)
	if err != nil {
		return err
	}

	var keys []string
	for key := range payload.SNMP {
		if !strings.Contains(key, "error") {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, key) {
			continue
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var sum uint64
	for _, key := range keys {
		sum += uint64(payload.SNMP[key])
	}

	result.Describef("389ds errors in the SNMP monitor")
	result.Add("errors_sum", nagios.PerfData{
		Value: nagios.Int(sum),
		Warn:  warnSum.PerfValue(),
		Crit:  critSum.PerfValue(),
		Min:   nagios.Int(0),
	})
	for _, key := range keys {
		value := uint64(payload.SNMP[key])
		result.Add(key, nagios.PerfData{
			Value: nagios.Int(value),
			Warn:  warn.PerfValue(),
			Crit:  crit.PerfValue(),
			Min:   nagios.Int(0),
		})
		result.WarnAtLeast(float64(value), warn)
		result.CritAtLeast(float64(value), crit)
	}
	result.WarnAtLeast(float64(sum), warnSum)
	result.CritAtLeast(float64(sum), critSum)
	return nil
}

func checkRecentRestart(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warn := limit(cmd, "warn-if-less-than")

	payload, err := scrapeMonitor(ctx, cfg)
	if err != nil {
		return err
	}

	start, ok := payload.Times["starttime"]
	if !ok {
		return fmt.Errorf("missing starttime in cn=monitor")
	}
	current, ok := payload.Times["currenttime"]
	if !ok {
		return fmt.Errorf("missing currenttime in cn=monitor")
	}

	uptime := current.Sub(start).Seconds()

	result.Describef("seconds since last restart")
	result.Add("seconds_since_last_restart", nagios.PerfData{
		Value: nagios.Float(uptime),
		Warn:  warn.PerfValue(),
		Min:   nagios.Int(0),
		Unit:  "s",
	})
	result.WarnAtMost(uptime, warn)
	return nil
}

func checkDiskSpace(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warnPercent, critPercent := limit(cmd, "warn-percent-used"), limit(cmd, "crit-percent-used")
	warnAvail, critAvail := limit(cmd, "warn-absolute-available"), limit(cmd, "crit-absolute-available")
	only, _ := cmd.Flags().GetStringSlice("partitions")

	payload, err := scrapeMonitor(ctx, cfg)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(payload.Partitions))
	for name := range payload.Partitions {
		if len(only) > 0 && !slices.Contains(only, name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var summary []string
	for _, name := range names {
		partition := payload.Partitions[name]
		used := partition["use%"]
		available := partition["available"]

		result.Add("use_percentage "+name, nagios.PerfData{
			Value: nagios.Int(used),
			Warn:  warnPercent.PerfValue(),
			Crit:  critPercent.PerfValue(),
			Min:   nagios.Int(1),
			Max:   nagios.Int(100),
			Unit:  "%",
		})
		result.Add("available_space "+name, nagios.PerfData{
			Value: nagios.Int(available),
			Warn:  warnAvail.PerfValue(),
			Crit:  critAvail.PerfValue(),
			Min:   nagios.Int(0),
			Unit:  "B",
		})

		result.WarnAtLeast(float64(used), warnPercent)
		result.CritAtLeast(float64(used), critPercent)
		result.WarnAtMost(float64(available), warnAvail)
		result.CritAtMost(float64(available), critAvail)

		summary = append(summary, fmt.Sprintf("%s %s free", name, units.BytesSize(float64(available))))
	}

	result.Describef("disk free space (389ds reported): %s", strings.Join(summary, ", "))
	return nil
}
