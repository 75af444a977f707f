package probe

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

// monitorTimeLayout is the generalized-time format the server uses for
// currenttime/starttime.
const monitorTimeLayout = "20060102150405Z"

const unknownField = "UNKNOWN"

// rootCounters are the numeric attributes scraped from the cn=monitor base
// entry.
var rootCounters = []string{
	"threads",
	"currentconnections",
	"totalconnections",
	"currentconnectionsatmaxthreads",
	"maxthreadsperconnhits",
	"dtablesize",
	"readwaiters",
	"opsinitiated",
	"opscompleted",
	"entriessent",
	"bytessent",
	"nbackends",
}

var rootTimes = []string{"currenttime", "starttime"}

// snmpCounters are the numeric attributes scraped from cn=snmp,cn=monitor.
var snmpCounters = []string{
	"anonymousbinds",
	"unauthbinds",
	"simpleauthbinds",
	"strongauthbinds",
	"bindsecurityerrors",
	"inops",
	"readops",
	"compareops",
	"addentryops",
	"removeentryops",
	"modifyentryops",
	"modifyrdnops",
	"listops",
	"searchops",
	"onelevelsearchops",
	"wholesubtreesearchops",
	"referrals",
	"chainings",
	"securityerrors",
	"errors",
	"connections",
	"connectionseq",
	"connectionsinmaxthreads",
	"connectionsmaxthreadscount",
	"bytesrecv",
	"bytessent",
	"entriesreturned",
	"referralsreturned",
	"supplierentries",
	"copyentries",
	"cacheentries",
	"cachehits",
	"consumerhits",
}

// diskCounters are the per-partition numbers inside the dsdisk logfmt attr.
var diskCounters = []string{"used", "available", "size", "use%"}

// DiskPartition holds the numeric metrics of one monitored partition.
type DiskPartition map[string]uint64

// Connection is one open connection as reported by cn=monitor.
type Connection struct {
	DN string
	IP string
}

// MonitorPayload is the result of one cn=monitor introspection scrape.
type MonitorPayload struct {
	Version string

	Counters map[string]uint64
	Times    map[string]time.Time

	ConnectionCount uint64
	Connections     []Connection
	ConnectionsByDN map[string]uint64
	ConnectionsByIP map[string]uint64

	SNMP map[string]int64

	// Partitions maps partition mount point to its disk metrics.
	Partitions map[string]DiskPartition
}

// MonitorProbe scrapes the server's built-in monitor entries: the root
// cn=monitor entry, the SNMP counters and the disk space report.
type MonitorProbe struct {
	Connect ldapx.Connector
}

func (p *MonitorProbe) Key() Key {
	return Key{Kind: KindMonitor}
}

func (p *MonitorProbe) Probe(ctx context.Context) (any, error) {
	client, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	payload := &MonitorPayload{
		Counters:        make(map[string]uint64),
		Times:           make(map[string]time.Time),
		ConnectionsByDN: make(map[string]uint64),
		ConnectionsByIP: make(map[string]uint64),
		SNMP:            make(map[string]int64),
		Partitions:      make(map[string]DiskPartition),
	}

	if err := p.scrapeRoot(ctx, client, payload); err != nil {
		return nil, err
	}
	if err := p.scrapeSNMP(ctx, client, payload); err != nil {
		return nil, err
	}
	if err := p.scrapeDisk(ctx, client, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

func (p *MonitorProbe) scrapeRoot(ctx context.Context, client ldapx.Client, payload *MonitorPayload) error {
	attrs := append([]string{"version", "connection"}, rootCounters...)
	attrs = append(attrs, rootTimes...)

	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=monitor",
		Scope:  ldapx.ScopeBase,
		Filter: "(objectClass=top)",
		Attrs:  attrs,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return Failuref(ErrorSearch, "no cn=monitor entry returned")
	}

	entry := entries[0]
	payload.Version = entry.First("version", "")

	for attr, vals := range entry.Attrs {
		switch {
		case attr == "connection":
			for _, line := range vals {
				dn, ip := parseConnectionLine(line)
				payload.ConnectionCount++
				payload.Connections = append(payload.Connections, Connection{DN: dn, IP: ip})
				payload.ConnectionsByDN[dn]++
				payload.ConnectionsByIP[ip]++
			}
		case slices.Contains(rootTimes, attr):
			if len(vals) == 0 {
				continue
			}
			t, err := time.Parse(monitorTimeLayout, vals[0])
			if err != nil {
				return Failuref(ErrorParse, "monitor attr %s: %v", attr, err)
			}
			payload.Times[attr] = t
		case slices.Contains(rootCounters, attr):
			if len(vals) == 0 {
				continue
			}
			n, err := strconv.ParseUint(vals[0], 10, 64)
			if err != nil {
				return Failuref(ErrorParse, "monitor attr %s: %v", attr, err)
			}
			payload.Counters[attr] = n
		}
	}

	return nil
}

func (p *MonitorProbe) scrapeSNMP(ctx context.Context, client ldapx.Client, payload *MonitorPayload) error {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=snmp,cn=monitor",
		Scope:  ldapx.ScopeBase,
		Filter: "(objectClass=top)",
		Attrs:  snmpCounters,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return Failuref(ErrorSearch, "no cn=snmp,cn=monitor entry returned")
	}

	for attr, vals := range entries[0].Attrs {
		if len(vals) == 0 {
			continue
		}
		// Malformed SNMP values degrade to zero instead of failing the
		// whole scrape; some deployments report empty strings here.
		n, _ := strconv.ParseInt(vals[0], 10, 64)
		payload.SNMP[attr] = n
	}

	return nil
}

func (p *MonitorProbe) scrapeDisk(ctx context.Context, client ldapx.Client, payload *MonitorPayload) error {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=disk space,cn=monitor",
		Scope:  ldapx.ScopeBase,
		Filter: "(objectClass=top)",
		Attrs:  []string{"dsdisk"},
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return Failuref(ErrorSearch, "no disk space entry returned")
	}

	for _, vals := range entries[0].Attrs {
		for _, line := range vals {
			pairs := parseLogfmt(line)
			partition, ok := pairs["partition"]
			if !ok {
				continue
			}
			metrics := make(DiskPartition, len(diskCounters))
			for _, key := range diskCounters {
				n, _ := strconv.ParseUint(pairs[key], 10, 64)
				metrics[key] = n
			}
			payload.Partitions[partition] = metrics
		}
	}

	return nil
}

// parseConnectionLine extracts the bind DN and peer IP from one value of
// the multi-valued "connection" attribute. The value is colon-separated;
// field 5 is the DN and field 10 is "ip=<addr>".
func parseConnectionLine(line string) (dn, ip string) {
	fields := strings.Split(line, ":")
	dn, ip = unknownField, unknownField
	if len(fields) > 5 {
		dn = fields[5]
	}
	if len(fields) > 10 {
		ip = strings.ReplaceAll(fields[10], "ip=", "")
	}
	return dn, ip
}
