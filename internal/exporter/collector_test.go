package exporter

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Dzordzu/o11y-389ds/internal/dsctl"
	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

func TestCollectorProbeHealth(t *testing.T) {
	store := state.New()
	observed := time.Unix(1700000000, 0)

	store.Publish(probe.Result{
		Key:        probe.Key{Kind: probe.KindMonitor},
		ObservedAt: observed,
		Payload:    &probe.MonitorPayload{Version: "389-Directory/2.3.4"},
	})
	store.Publish(probe.Result{
		Key:        probe.QueryKey("people"),
		ObservedAt: observed,
		Err:        probe.Failuref(probe.ErrorTimeout, "deadline exceeded"),
	})

	expected := `
# HELP ds389_probe_healthy 1 when the probe's latest execution succeeded, 0 when it failed
# TYPE ds389_probe_healthy gauge
ds389_probe_healthy{probe="monitor"} 1
ds389_probe_healthy{probe="query:people"} 0
# HELP ds389_probe_error 1 for the error kind of the latest failed execution
# TYPE ds389_probe_error gauge
ds389_probe_error{kind="timeout",probe="query:people"} 1
`
	c := NewCollector(store, "default")
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ds389_probe_healthy", "ds389_probe_error")
	if err != nil {
		t.Error(err)
	}
}

func TestCollectorMonitorPayload(t *testing.T) {
	store := state.New()
	store.Publish(probe.Result{
		Key:        probe.Key{Kind: probe.KindMonitor},
		ObservedAt: time.Unix(1700000000, 0),
		Payload: &probe.MonitorPayload{
			Version:         "389-Directory/2.3.4",
			Counters:        map[string]uint64{"currentconnections": 2},
			SNMP:            map[string]int64{"errors": 3},
			ConnectionsByDN: map[string]uint64{"cn=directory manager": 2},
			Partitions: map[string]probe.DiskPartition{
				"/var": {"available": 8000, "use%": 20},
			},
		},
	})

	expected := `
# HELP ds389_monitor_counter Numeric attribute of the cn=monitor entry
# TYPE ds389_monitor_counter gauge
ds389_monitor_counter{name="currentconnections"} 2
# HELP ds389_snmp_counter Numeric attribute of the cn=snmp,cn=monitor entry
# TYPE ds389_snmp_counter gauge
ds389_snmp_counter{name="errors"} 3
# HELP ds389_monitor_connections_by_dn Open connections grouped by bind DN
# TYPE ds389_monitor_connections_by_dn gauge
ds389_monitor_connections_by_dn{dn="cn=directory manager"} 2
# HELP ds389_disk Disk metric of a monitored partition
# TYPE ds389_disk gauge
ds389_disk{name="available",partition="/var"} 8000
ds389_disk{name="use_percent",partition="/var"} 20
# HELP ds389_monitor_version_info Directory server version reported by cn=monitor
# TYPE ds389_monitor_version_info gauge
ds389_monitor_version_info{version="389-Directory/2.3.4"} 1
`
	c := NewCollector(store, "default")
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ds389_monitor_counter", "ds389_snmp_counter",
		"ds389_monitor_connections_by_dn", "ds389_disk", "ds389_monitor_version_info")
	if err != nil {
		t.Error(err)
	}
}

func TestCollectorReplicationPayload(t *testing.T) {
	store := state.New()
	store.Publish(probe.Result{
		Key:        probe.Key{Kind: probe.KindReplication},
		ObservedAt: time.Unix(1700000000, 0),
		Payload: &probe.ReplicationPayload{
			PluginVersion: "2.3.4",
			Agreements: []probe.Agreement{{
				CN:                        "agmt-to-ds2",
				Host:                      "ds2.example.com",
				Root:                      "dc=example,dc=com",
				LastUpdateDurationSeconds: 4,
				ChangesSent:               []probe.ChangesSent{{ReplicaID: 1, ChangesReplayed: 100, ChangesSkipped: 2}},
				RUVs: []probe.RUV{
					{ReplicaGen: "abc"},
					{ReplicaID: 2, Server: "ldap://ds2:389"},
				},
				Status: probe.AgreementStatus{State: "green"},
			}},
		},
	})

	expected := `
# HELP ds389_replication_agreement_changes Changes replayed or skipped since startup, per peer replica
# TYPE ds389_replication_agreement_changes counter
ds389_replication_agreement_changes{cn="agmt-to-ds2",op="replayed",replica_id="1"} 100
ds389_replication_agreement_changes{cn="agmt-to-ds2",op="skipped",replica_id="1"} 2
# HELP ds389_replication_agreement_ruv_broken 1 when a RUV line reports a replica without change markers
# TYPE ds389_replication_agreement_ruv_broken gauge
ds389_replication_agreement_ruv_broken{cn="agmt-to-ds2",replica_id="2",server="ldap://ds2:389"} 1
# HELP ds389_replication_agreement_status Replication return code of the agreement's last update
# TYPE ds389_replication_agreement_status gauge
ds389_replication_agreement_status{cn="agmt-to-ds2",host="ds2.example.com",root="dc=example,dc=com",state="green"} 0
`
	c := NewCollector(store, "default")
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ds389_replication_agreement_changes",
		"ds389_replication_agreement_ruv_broken",
		"ds389_replication_agreement_status")
	if err != nil {
		t.Error(err)
	}
}

func TestCollectorDsctlPayload(t *testing.T) {
	store := state.New()
	store.Publish(probe.Result{
		Key:        probe.Key{Kind: probe.KindDsctl},
		ObservedAt: time.Unix(1700000000, 0),
		Payload: &dsctl.Payload{
			Healthy: false,
			Issues: []dsctl.Issue{
				{DSLE: "DSBLE0002", Severity: dsctl.SeverityHigh},
			},
		},
	})

	expected := `
# HELP dsctl_healthcheck_healthy 1 when dsctl healthcheck reported no issues
# TYPE dsctl_healthcheck_healthy gauge
dsctl_healthcheck_healthy{instance="main"} 0
# HELP dsctl_healthcheck_error 1 per issue reported by dsctl healthcheck
# TYPE dsctl_healthcheck_error gauge
dsctl_healthcheck_error{dsle="DSBLE0002",instance="main",severity="HIGH"} 1
`
	c := NewCollector(store, "main")
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"dsctl_healthcheck_healthy", "dsctl_healthcheck_error")
	if err != nil {
		t.Error(err)
	}
}
