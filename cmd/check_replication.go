package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/nagios"
)

var checkAgreementStatusCmd = &cobra.Command{
	Use:   "agreement-status",
	Short: "Check every replication agreement for errors and broken RUVs",
	RunE:  runCheck(checkAgreementStatus),
}

var checkAgreementSkippedCmd = &cobra.Command{
	Use:   "agreement-skipped",
	Short: "Check the number of skipped changes per agreement",
	RunE:  runCheck(checkAgreementSkipped),
}

var checkAgreementDurationCmd = &cobra.Command{
	Use:   "agreement-duration",
	Short: "Check how long the last replication update took",
	RunE:  runCheck(checkAgreementDuration),
}

func init() {
	checkCmd.AddCommand(checkAgreementStatusCmd, checkAgreementSkippedCmd,
		checkAgreementDurationCmd)

	checkAgreementStatusCmd.Flags().Bool("no-ruv", false, "Skip the RUV inspection")

	checkAgreementSkippedCmd.Flags().Float64("warn", 0, "Warning threshold for skipped changes")
	checkAgreementSkippedCmd.Flags().Float64("crit", 0, "Critical threshold for skipped changes")

	checkAgreementDurationCmd.Flags().Float64("warn", 0, "Warning threshold in seconds")
	checkAgreementDurationCmd.Flags().Float64("crit", 0, "Critical threshold in seconds")
}

func checkAgreementStatus(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	noRUV, _ := cmd.Flags().GetBool("no-ruv")

	payload, err := scrapeReplication(ctx, cfg)
	if err != nil {
		return err
	}

	result.Describef("agreement status")

	for _, agreement := range payload.Agreements {
		status := agreement.Status
		if status.LdapRC != 0 || status.ReplRC != 0 || status.State != "green" {
			result.Code.Crit()
		}

		result.Add(agreement.CN, nagios.PerfData{
			Value: nagios.Int(0),
			Crit:  nagios.Int(1),
			Min:   nagios.Int(0),
		})

		if noRUV {
			continue
		}
		for _, ruv := range agreement.RUVs {
			if ruv.ReplicaGen != "" {
				continue
			}

			var broken uint64
			if ruv.Broken() {
				broken = 1
				result.Code.Crit()
			}
			label := fmt.Sprintf("%s RUV server(%s) replica(%d)",
				agreement.CN, ruv.Server, ruv.ReplicaID)
			result.Add(label, nagios.PerfData{
				Value: nagios.Int(broken),
				Crit:  nagios.Int(1),
				Min:   nagios.Int(0),
			})
		}
	}
	return nil
}

func checkAgreementSkipped(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")

	payload, err := scrapeReplication(ctx, cfg)
	if err != nil {
		return err
	}

	result.Describef("agreement objects skipped")

	for _, agreement := range payload.Agreements {
		for _, sent := range agreement.ChangesSent {
			label := fmt.Sprintf("%s replica_%d", agreement.CN, sent.ReplicaID)
			result.Add(label, nagios.PerfData{
				Value: nagios.Int(sent.ChangesSkipped),
				Warn:  warn.PerfValue(),
				Crit:  crit.PerfValue(),
				Min:   nagios.Int(0),
			})
			result.WarnAtLeast(float64(sent.ChangesSkipped), warn)
			result.CritAtLeast(float64(sent.ChangesSkipped), crit)
		}
	}
	return nil
}

func checkAgreementDuration(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")

	payload, err := scrapeReplication(ctx, cfg)
	if err != nil {
		return err
	}

	result.Describef("agreements duration (seconds)")

	for _, agreement := range payload.Agreements {
		duration := float64(agreement.LastUpdateDurationSeconds)
		result.Add(agreement.CN, nagios.PerfData{
			Value: nagios.Float(duration),
			Warn:  warn.PerfValue(),
			Crit:  crit.PerfValue(),
			Min:   nagios.Int(0),
			Unit:  "s",
		})
		result.WarnAtLeast(duration, warn)
		result.CritAtLeast(duration, crit)
	}
	return nil
}
