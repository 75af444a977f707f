package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Dzordzu/o11y-389ds/internal/config"
	"github.com/Dzordzu/o11y-389ds/internal/nagios"
	"github.com/Dzordzu/o11y-389ds/internal/probe"
)

var checkGidsCmd = &cobra.Command{
	Use:   "gids",
	Short: "Check for group ids referenced by users but defined by no group",
	RunE:  runCheck(checkGids),
}

var checkQueryTimeCmd = &cobra.Command{
	Use:   "query-time",
	Short: "Check how long a custom query takes",
	RunE:  runCheck(checkQueryTime),
}

var checkQueryIntegrityCmd = &cobra.Command{
	Use:   "query-integrity",
	Short: "Compare a custom query result between two hosts",
	RunE:  runCheck(checkQueryIntegrity),
}

func init() {
	checkCmd.AddCommand(checkGidsCmd, checkQueryTimeCmd, checkQueryIntegrityCmd)

	f := checkGidsCmd.Flags()
	f.Float64("warn-groups", 0, "Warning threshold for the number of unresolvable gids")
	f.Float64("crit-groups", 0, "Critical threshold for the number of unresolvable gids")
	f.Float64("warn-users", 0, "Warning threshold for the number of affected users")
	f.Float64("crit-users", 0, "Critical threshold for the number of affected users")

	f = checkQueryTimeCmd.Flags()
	f.String("filter", "", "LDAP filter to run")
	f.Float64("warn", 0, "Warning threshold in milliseconds")
	f.Float64("crit", 0, "Critical threshold in milliseconds")
	checkQueryTimeCmd.MarkFlagRequired("filter")

	f = checkQueryIntegrityCmd.Flags()
	f.String("filter", "", "LDAP filter to run")
	f.String("compare-host", "", "LDAP URI of the host to compare against")
	f.StringSlice("attributes", nil, "Attributes to request")
	f.Bool("sha256-integrity", false, "Fail when the result checksums differ")
	f.Bool("entries-count-integrity", false, "Fail when the entry counts differ")
	f.Bool("bytes-size-integrity", false, "Fail when the result sizes differ")
	f.Bool("attributes-count-integrity", false, "Fail when the attribute counts differ")
	checkQueryIntegrityCmd.MarkFlagRequired("filter")
	checkQueryIntegrityCmd.MarkFlagRequired("compare-host")
}

func checkGids(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	warnGroups, critGroups := limit(cmd, "warn-groups"), limit(cmd, "crit-groups")
	warnUsers, critUsers := limit(cmd, "warn-users"), limit(cmd, "crit-users")

	base, err := queryBase(ctx, cfg)
	if err != nil {
		return err
	}

	p := &probe.GidsProbe{Connect: cfg.LDAP.ClientConfig().Connector(), Base: base}
	raw, err := p.Probe(ctx)
	if err != nil {
		return err
	}
	payload := raw.(*probe.GidsPayload)

	totalGids := uint64(len(payload.Unresolved))
	var totalUsers uint64
	for _, users := range payload.Unresolved {
		totalUsers += users
	}

	result.Describef("missing gids")
	result.Add("total_gids", nagios.PerfData{
		Value: nagios.Int(totalGids),
		Warn:  warnGroups.PerfValue(),
		Crit:  critGroups.PerfValue(),
	})
	result.Add("total_users", nagios.PerfData{
		Value: nagios.Int(totalUsers),
		Warn:  warnUsers.PerfValue(),
		Crit:  critUsers.PerfValue(),
	})

	gids := make([]int64, 0, len(payload.Unresolved))
	for gid := range payload.Unresolved {
		gids = append(gids, gid)
	}
	slices.Sort(gids)
	for _, gid := range gids {
		result.Add(fmt.Sprintf("gid[%d]", gid), nagios.PerfData{
			Value: nagios.Int(payload.Unresolved[gid]),
		})
	}

	result.WarnAtLeast(float64(totalGids), warnGroups)
	result.CritAtLeast(float64(totalGids), critGroups)
	result.WarnAtLeast(float64(totalUsers), warnUsers)
	result.CritAtLeast(float64(totalUsers), critUsers)
	return nil
}

func runQueryOnce(ctx context.Context, cfg config.Config, base, filter string, attrs []string) (*probe.QueryPayload, error) {
	p := &probe.QueryProbe{
		Connect: cfg.LDAP.ClientConfig().Connector(),
		Name:    "query",
		Base:    base,
		Filter:  filter,
		Attrs:   attrs,
	}
	raw, err := p.Probe(ctx)
	if err != nil {
		return nil, err
	}
	return raw.(*probe.QueryPayload), nil
}

func checkQueryTime(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	filter, _ := cmd.Flags().GetString("filter")
	warn, crit := limit(cmd, "warn"), limit(cmd, "crit")

	base, err := queryBase(ctx, cfg)
	if err != nil {
		return err
	}

	payload, err := runQueryOnce(ctx, cfg, base, filter, nil)
	if err != nil {
		return err
	}

	millis := uint64(payload.Duration.Milliseconds())

	result.Describef("query time")
	result.Add("query_time", nagios.PerfData{
		Value: nagios.Int(millis),
		Warn:  warn.PerfValue(),
		Crit:  crit.PerfValue(),
		Min:   nagios.Int(0),
		Unit:  "ms",
	})
	result.WarnAtLeast(float64(millis), warn)
	result.CritAtLeast(float64(millis), crit)
	return nil
}

func checkQueryIntegrity(ctx context.Context, cfg config.Config, cmd *cobra.Command, result *nagios.Result) error {
	flags := cmd.Flags()
	filter, _ := flags.GetString("filter")
	compareHost, _ := flags.GetString("compare-host")
	attrs, _ := flags.GetStringSlice("attributes")
	checkSum, _ := flags.GetBool("sha256-integrity")
	checkCount, _ := flags.GetBool("entries-count-integrity")
	checkBytes, _ := flags.GetBool("bytes-size-integrity")
	checkAttrs, _ := flags.GetBool("attributes-count-integrity")

	base, err := queryBase(ctx, cfg)
	if err != nil {
		return err
	}

	local, err := runQueryOnce(ctx, cfg, base, filter, attrs)
	if err != nil {
		return err
	}

	remoteCfg := cfg
	remoteCfg.LDAP.URI = compareHost
	remote, err := runQueryOnce(ctx, remoteCfg, base, filter, attrs)
	if err != nil {
		return fmt.Errorf("compare host %s: %w", compareHost, err)
	}

	if checkSum && local.Checksum != remote.Checksum {
		result.Code.Crit()
	}
	if checkCount && local.ObjectCount != remote.ObjectCount {
		result.Code.Crit()
	}
	if checkBytes && local.Bytes != remote.Bytes {
		result.Code.Crit()
	}
	if checkAttrs && local.AttrsCount != remote.AttrsCount {
		result.Code.Crit()
	}

	var checksumOK uint64
	if local.Checksum == remote.Checksum {
		checksumOK = 1
	}

	result.Describef("query integrity across hosts")
	result.Add("object_number", nagios.PerfData{Value: nagios.Int(local.ObjectCount)})
	result.Add("bytes_size", nagios.PerfData{Value: nagios.Int(local.Bytes)})
	result.Add("attr_number", nagios.PerfData{Value: nagios.Int(local.AttrsCount)})
	result.Add("object_number_compared", nagios.PerfData{Value: nagios.Int(remote.ObjectCount)})
	result.Add("bytes_size_compared", nagios.PerfData{Value: nagios.Int(remote.Bytes)})
	result.Add("attr_number_compared", nagios.PerfData{Value: nagios.Int(remote.AttrsCount)})
	result.Add("checksum_ok", nagios.PerfData{Value: nagios.Int(checksumOK)})
	return nil
}
