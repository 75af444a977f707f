package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/dsctl"
	"github.com/Dzordzu/o11y-389ds/internal/nagios"
)

var checkHealthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Run dsctl healthcheck and count issues by severity",
	Long: `Runs "dsctl <instance> healthcheck" through sudo, skipping the log
analysis checks, and alerts on the number of reported issues. Separate
thresholds exist for the total and for each severity.`,
	RunE: runCheck(checkHealthcheck),
}

func init() {
	checkCmd.AddCommand(checkHealthcheckCmd)

	f := checkHealthcheckCmd.Flags()
	f.String("instance", "", "Directory server instance name, overrides dsctl.instance")
	f.Float64("warn", 0, "Warning threshold for the total number of issues")
	f.Float64("crit", 0, "Critical threshold for the total number of issues")
	f.Float64("warn-low", 0, "Warning threshold for low-severity issues")
	f.Float64("crit-low", 0, "Critical threshold for low-severity issues")
	f.Float64("warn-medium", 0, "Warning threshold for medium-severity issues")
	f.Float64("crit-medium", 0, "Critical threshold for medium-severity issues")
	f.Float64("warn-high", 0, "Warning threshold for high-severity issues")
	f.Float64("crit-high", 0, "Critical threshold for high-severity issues")
}

func checkHealthcheck(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	instance, _ := cmd.Flags().GetString("instance")
	if instance == "" {
		instance = cfg.Dsctl.Instance
	}

	timeout, _ := cmd.Flags().GetUint64("timeout")
	guard := dsctl.NewGuard(dsctl.ExecRunner{}, instance, time.Duration(timeout)*time.Second)

	issues, err := guard.Healthcheck(ctx)
	if err != nil {
		return err
	}

	counts := map[dsctl.Severity]uint64{}
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	total := uint64(len(issues))

	severities := []struct {
		label    string
		count    uint64
		warnFlag string
		critFlag string
	}{
		{"all_severity", total, "warn", "crit"},
		{"low_severity", counts[dsctl.SeverityLow], "warn-low", "crit-low"},
		{"medium_severity", counts[dsctl.SeverityMedium], "warn-medium", "crit-medium"},
		{"high_severity", counts[dsctl.SeverityHigh], "warn-high", "crit-high"},
	}

	result.Describef("dsctl healthcheck")
	for _, s := range severities {
		warn, crit := limit(cmd, s.warnFlag), limit(cmd, s.critFlag)
		result.Add(s.label, nagios.PerfData{
			Value: nagios.Int(s.count),
			Warn:  warn.PerfValue(),
			Crit:  crit.PerfValue(),
			Min:   nagios.Int(0),
		})
		result.WarnAtLeast(float64(s.count), warn)
		result.CritAtLeast(float64(s.count), crit)
	}
	return nil
}
