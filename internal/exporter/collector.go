// Package exporter renders state store snapshots as Prometheus metrics.
// The collector is a pure reader: collecting never triggers a probe.
package exporter

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dzordzu/o11y-389ds/internal/dsctl"
	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

const namespace = "ds389"

var (
	descProbeHealthy = prometheus.NewDesc(
		namespace+"_probe_healthy",
		"1 when the probe's latest execution succeeded, 0 when it failed",
		[]string{"probe"}, nil,
	)
	descProbeObservedAt = prometheus.NewDesc(
		namespace+"_probe_last_scrape_timestamp_seconds",
		"Unix timestamp of the probe's latest completed execution",
		[]string{"probe"}, nil,
	)
	descProbeError = prometheus.NewDesc(
		namespace+"_probe_error",
		"1 for the error kind of the latest failed execution",
		[]string{"probe", "kind"}, nil,
	)

	descMonitorCounter = prometheus.NewDesc(
		namespace+"_monitor_counter",
		"Numeric attribute of the cn=monitor entry",
		[]string{"name"}, nil,
	)
	descMonitorTime = prometheus.NewDesc(
		namespace+"_monitor_time_seconds",
		"Time attribute of the cn=monitor entry as a unix timestamp",
		[]string{"name"}, nil,
	)
	descMonitorVersion = prometheus.NewDesc(
		namespace+"_monitor_version_info",
		"Directory server version reported by cn=monitor",
		[]string{"version"}, nil,
	)
	descConnectionsByDN = prometheus.NewDesc(
		namespace+"_monitor_connections_by_dn",
		"Open connections grouped by bind DN",
		[]string{"dn"}, nil,
	)
	descConnectionsByIP = prometheus.NewDesc(
		namespace+"_monitor_connections_by_ip",
		"Open connections grouped by peer IP",
		[]string{"ip"}, nil,
	)
	descSNMPCounter = prometheus.NewDesc(
		namespace+"_snmp_counter",
		"Numeric attribute of the cn=snmp,cn=monitor entry",
		[]string{"name"}, nil,
	)
	descDiskMetric = prometheus.NewDesc(
		namespace+"_disk",
		"Disk metric of a monitored partition",
		[]string{"partition", "name"}, nil,
	)

	descReplPluginVersion = prometheus.NewDesc(
		namespace+"_replication_plugin_info",
		"Replication plugin version",
		[]string{"version"}, nil,
	)
	descAgreementDuration = prometheus.NewDesc(
		namespace+"_replication_agreement_last_update_duration_seconds",
		"Duration of the agreement's last replication update",
		[]string{"cn", "host", "root"}, nil,
	)
	descAgreementStatus = prometheus.NewDesc(
		namespace+"_replication_agreement_status",
		"Replication return code of the agreement's last update",
		[]string{"cn", "host", "root", "state"}, nil,
	)
	descAgreementChanges = prometheus.NewDesc(
		namespace+"_replication_agreement_changes",
		"Changes replayed or skipped since startup, per peer replica",
		[]string{"cn", "replica_id", "op"}, nil,
	)
	descAgreementRUVBroken = prometheus.NewDesc(
		namespace+"_replication_agreement_ruv_broken",
		"1 when a RUV line reports a replica without change markers",
		[]string{"cn", "replica_id", "server"}, nil,
	)
	descReplicaChanges = prometheus.NewDesc(
		namespace+"_replication_replica_change_count",
		"Total changes recorded by the replica",
		[]string{"name", "root"}, nil,
	)
	descReplicaActive = prometheus.NewDesc(
		namespace+"_replication_replica_reap_active",
		"1 while the replica's tombstone reap task is running",
		[]string{"name", "root"}, nil,
	)

	descGidsUnresolved = prometheus.NewDesc(
		namespace+"_gids_unresolvable_count",
		"Accounts whose primary GID has no matching posixGroup",
		[]string{"gid"}, nil,
	)

	descQueryDuration = prometheus.NewDesc(
		"custom_query_duration_ms",
		"Duration of the custom query",
		[]string{"query"}, nil,
	)
	descQueryObjects = prometheus.NewDesc(
		"custom_query_object_count",
		"Entries returned by the custom query",
		[]string{"query"}, nil,
	)
	descQueryAttrs = prometheus.NewDesc(
		"custom_query_attrs_count",
		"Distinct (entry, attribute) pairs returned by the custom query",
		[]string{"query"}, nil,
	)
	descQueryBytes = prometheus.NewDesc(
		"custom_query_bytes",
		"Bytes of attribute values returned by the custom query",
		[]string{"query"}, nil,
	)
	descQueryCode = prometheus.NewDesc(
		"custom_query_ldap_code",
		"LDAP result code of the custom query",
		[]string{"query"}, nil,
	)

	descDsctlHealthy = prometheus.NewDesc(
		"dsctl_healthcheck_healthy",
		"1 when dsctl healthcheck reported no issues",
		[]string{"instance"}, nil,
	)
	descDsctlError = prometheus.NewDesc(
		"dsctl_healthcheck_error",
		"1 per issue reported by dsctl healthcheck",
		[]string{"instance", "severity", "dsle"}, nil,
	)
)

// Collector renders one state store snapshot per scrape.
type Collector struct {
	store    *state.Store
	instance string
}

// NewCollector builds a Collector. instance labels the dsctl series.
func NewCollector(store *state.Store, instance string) *Collector {
	return &Collector{store: store, instance: instance}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, entry := range c.store.Snapshot() {
		key := entry.Result.Key.String()

		healthy := 0.0
		if entry.Health == probe.HealthHealthy {
			healthy = 1.0
		}
		ch <- prometheus.MustNewConstMetric(descProbeHealthy, prometheus.GaugeValue, healthy, key)
		ch <- prometheus.MustNewConstMetric(descProbeObservedAt, prometheus.GaugeValue,
			float64(entry.Result.ObservedAt.Unix()), key)

		if !entry.Result.OK() {
			ch <- prometheus.MustNewConstMetric(descProbeError, prometheus.GaugeValue,
				1, key, string(entry.Result.Err.Kind))
			continue
		}

		switch payload := entry.Result.Payload.(type) {
		case *probe.MonitorPayload:
			c.collectMonitor(ch, payload)
		case *probe.ReplicationPayload:
			c.collectReplication(ch, payload)
		case *probe.GidsPayload:
			for gid, count := range payload.Unresolved {
				ch <- prometheus.MustNewConstMetric(descGidsUnresolved, prometheus.GaugeValue,
					float64(count), strconv.FormatInt(gid, 10))
			}
		case *probe.QueryPayload:
			c.collectQuery(ch, entry.Result.Key.Query, payload)
		case *dsctl.Payload:
			c.collectDsctl(ch, payload)
		}
	}
}

func (c *Collector) collectMonitor(ch chan<- prometheus.Metric, payload *probe.MonitorPayload) {
	ch <- prometheus.MustNewConstMetric(descMonitorVersion, prometheus.GaugeValue, 1, payload.Version)
	for name, value := range payload.Counters {
		ch <- prometheus.MustNewConstMetric(descMonitorCounter, prometheus.GaugeValue,
			float64(value), name)
	}
	for name, t := range payload.Times {
		ch <- prometheus.MustNewConstMetric(descMonitorTime, prometheus.GaugeValue,
			float64(t.Unix()), name)
	}
	for dn, count := range payload.ConnectionsByDN {
		ch <- prometheus.MustNewConstMetric(descConnectionsByDN, prometheus.GaugeValue,
			float64(count), dn)
	}
	for ip, count := range payload.ConnectionsByIP {
		ch <- prometheus.MustNewConstMetric(descConnectionsByIP, prometheus.GaugeValue,
			float64(count), ip)
	}
	for name, value := range payload.SNMP {
		ch <- prometheus.MustNewConstMetric(descSNMPCounter, prometheus.GaugeValue,
			float64(value), name)
	}
	for partition, metrics := range payload.Partitions {
		for name, value := range metrics {
			ch <- prometheus.MustNewConstMetric(descDiskMetric, prometheus.GaugeValue,
				float64(value), partition, sanitizeName(name))
		}
	}
}

func (c *Collector) collectReplication(ch chan<- prometheus.Metric, payload *probe.ReplicationPayload) {
	ch <- prometheus.MustNewConstMetric(descReplPluginVersion, prometheus.GaugeValue, 1, payload.PluginVersion)

	for _, agreement := range payload.Agreements {
		ch <- prometheus.MustNewConstMetric(descAgreementDuration, prometheus.GaugeValue,
			float64(agreement.LastUpdateDurationSeconds),
			agreement.CN, agreement.Host, agreement.Root)
		ch <- prometheus.MustNewConstMetric(descAgreementStatus, prometheus.GaugeValue,
			float64(agreement.Status.ReplRC),
			agreement.CN, agreement.Host, agreement.Root, agreement.Status.State)

		for _, sent := range agreement.ChangesSent {
			id := strconv.FormatInt(sent.ReplicaID, 10)
			ch <- prometheus.MustNewConstMetric(descAgreementChanges, prometheus.CounterValue,
				float64(sent.ChangesReplayed), agreement.CN, id, "replayed")
			ch <- prometheus.MustNewConstMetric(descAgreementChanges, prometheus.CounterValue,
				float64(sent.ChangesSkipped), agreement.CN, id, "skipped")
		}

		for _, ruv := range agreement.RUVs {
			if ruv.ReplicaGen != "" {
				continue
			}
			broken := 0.0
			if ruv.Broken() {
				broken = 1.0
			}
			ch <- prometheus.MustNewConstMetric(descAgreementRUVBroken, prometheus.GaugeValue,
				broken, agreement.CN, strconv.FormatInt(ruv.ID(), 10), ruv.Server)
		}
	}

	for _, replica := range payload.Replicas {
		ch <- prometheus.MustNewConstMetric(descReplicaChanges, prometheus.CounterValue,
			float64(replica.ChangesCount), replica.Name, replica.Root)
		active := 0.0
		if replica.ReapActive {
			active = 1.0
		}
		ch <- prometheus.MustNewConstMetric(descReplicaActive, prometheus.GaugeValue,
			active, replica.Name, replica.Root)
	}
}

func (c *Collector) collectQuery(ch chan<- prometheus.Metric, name string, payload *probe.QueryPayload) {
	ch <- prometheus.MustNewConstMetric(descQueryDuration, prometheus.GaugeValue,
		float64(payload.Duration.Milliseconds()), name)
	ch <- prometheus.MustNewConstMetric(descQueryObjects, prometheus.GaugeValue,
		float64(payload.ObjectCount), name)
	ch <- prometheus.MustNewConstMetric(descQueryAttrs, prometheus.GaugeValue,
		float64(payload.AttrsCount), name)
	ch <- prometheus.MustNewConstMetric(descQueryBytes, prometheus.GaugeValue,
		float64(payload.Bytes), name)
	ch <- prometheus.MustNewConstMetric(descQueryCode, prometheus.GaugeValue,
		float64(payload.ResultCode), name)
}

func (c *Collector) collectDsctl(ch chan<- prometheus.Metric, payload *dsctl.Payload) {
	healthy := 0.0
	if payload.Healthy {
		healthy = 1.0
	}
	ch <- prometheus.MustNewConstMetric(descDsctlHealthy, prometheus.GaugeValue, healthy, c.instance)
	for _, issue := range payload.Issues {
		ch <- prometheus.MustNewConstMetric(descDsctlError, prometheus.GaugeValue,
			1, c.instance, string(issue.Severity), issue.DSLE)
	}
}

// sanitizeName makes attribute names safe for label values that carry
// punctuation such as "use%".
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, "%", "_percent")
}
