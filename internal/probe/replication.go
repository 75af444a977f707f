package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

const (
	attrCN              = "cn"
	attrAgreementHost   = "nsDS5ReplicaHost"
	attrAgreementRoot   = "nsDS5ReplicaRoot"
	attrRUV             = "nsds50ruv"
	attrUpdateStatus    = "nsds5replicaLastUpdateStatusJSON"
	attrUpdateStart     = "nsds5replicaLastUpdateStart"
	attrUpdateEnd       = "nsds5replicaLastUpdateEnd"
	attrChangesSent     = "nsds5replicaChangesSentSinceStartup"
	attrReplicaName     = "nsDS5ReplicaName"
	attrReplicaChanges  = "nsds5ReplicaChangeCount"
	attrReplicaActive   = "nsds5replicareapactive"
	attrPluginVersion   = "nsslapd-pluginversion"
	agreementTimeLayout = "20060102150405Z"
)

// ChangesSent is one "replicaID:replayed/skipped" triple from the
// changes-sent-since-startup attribute.
type ChangesSent struct {
	ReplicaID       int64
	ChangesReplayed uint64
	ChangesSkipped  uint64
}

// ParseChangesSent parses the space-separated changes-sent attribute.
// Malformed segments are skipped.
func ParseChangesSent(definition string) []ChangesSent {
	var out []ChangesSent
	for _, seg := range strings.Split(definition, " ") {
		id, changes, ok := strings.Cut(seg, ":")
		if !ok {
			continue
		}
		replayed, skipped, ok := strings.Cut(changes, "/")
		if !ok {
			continue
		}

		replicaID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		nReplayed, err := strconv.ParseUint(replayed, 10, 64)
		if err != nil {
			continue
		}
		nSkipped, err := strconv.ParseUint(skipped, 10, 64)
		if err != nil {
			continue
		}

		out = append(out, ChangesSent{
			ReplicaID:       replicaID,
			ChangesReplayed: nReplayed,
			ChangesSkipped:  nSkipped,
		})
	}
	return out
}

// RUV is one parsed replica update vector line. Exactly one of the three
// shapes applies: a replica generation marker (ReplicaGen set), a healthy
// replica line (change fields set) or a broken replication line (neither).
type RUV struct {
	ReplicaGen string

	ReplicaID int64
	Server    string

	LastChange  string
	FirstChange string
}

// Broken reports whether the line describes a replica without any change
// markers, which means replication to that server never completed.
func (r RUV) Broken() bool {
	return r.ReplicaGen == "" && r.LastChange == "" && r.FirstChange == ""
}

// Labels renders the label set used by the metrics surface.
func (r RUV) Labels() map[string]string {
	if r.ReplicaGen != "" {
		return map[string]string{"replicagen": r.ReplicaGen}
	}
	if r.Broken() {
		return map[string]string{"server": r.Server}
	}
	return map[string]string{
		"server":       r.Server,
		"last_change":  r.LastChange,
		"first_change": r.FirstChange,
	}
}

// ID returns the replica id, or -1 for generation markers.
func (r RUV) ID() int64 {
	if r.ReplicaGen != "" {
		return -1
	}
	return r.ReplicaID
}

// ParseRUV parses one nsds50ruv value, e.g.
//
//	{replica 1 ldap://supplier:389} 5f0c... 5f0d...
//	{replicageneration} 5f0c...
func ParseRUV(definition string) (RUV, error) {
	definition = strings.TrimSpace(definition)

	open := strings.Index(definition, "{")
	if open < 0 {
		return RUV{}, fmt.Errorf("missing opening bracket")
	}
	definition = definition[open+1:]

	closing := strings.Index(definition, "}")
	if closing < 0 {
		return RUV{}, fmt.Errorf("missing closing bracket")
	}
	header, changes := definition[:closing], definition[closing+1:]

	if header == "replicageneration" {
		return RUV{ReplicaGen: strings.TrimSpace(changes)}, nil
	}

	rest, ok := strings.CutPrefix(header, "replica ")
	if !ok {
		return RUV{}, fmt.Errorf("missing replica declaration in line %s", header)
	}

	idStr, server, ok := strings.Cut(rest, " ")
	if !ok {
		return RUV{}, fmt.Errorf("missing replica id")
	}
	replicaID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return RUV{}, fmt.Errorf("parsing replica id: %w", err)
	}

	ruv := RUV{ReplicaID: replicaID, Server: strings.TrimSpace(server)}

	changes = strings.TrimSpace(changes)
	if last, first, ok := strings.Cut(changes, " "); ok {
		ruv.LastChange = strings.TrimSpace(last)
		ruv.FirstChange = strings.TrimSpace(first)
	}

	return ruv, nil
}

// AgreementStatus is the JSON-encoded last-update status of an agreement.
type AgreementStatus struct {
	State      string `json:"state"`
	LdapRC     int64  `json:"ldap_rc,string"`
	LdapRCText string `json:"ldap_rc_text"`
	ReplRC     int64  `json:"repl_rc,string"`
	ReplRCText string `json:"repl_rc_text"`
	Date       string `json:"date"`
	Message    string `json:"message"`
}

// Agreement is one replication agreement entry under cn=config.
type Agreement struct {
	CN   string
	Host string
	Root string

	ChangesSent               []ChangesSent
	LastUpdateDurationSeconds int64

	RUVs   []RUV
	Status AgreementStatus
}

// Replica is one nsds5replica entry under cn=config.
type Replica struct {
	Root         string
	Name         string
	ChangesCount uint64
	ReapActive   bool
}

// ReplicationPayload is the result of one replication-status scrape.
type ReplicationPayload struct {
	PluginVersion string
	Agreements    []Agreement
	Replicas      []Replica
}

// ReplicationProbe scrapes replication agreements, replica entries and the
// replication plugin version from cn=config.
type ReplicationProbe struct {
	Connect ldapx.Connector
}

func (p *ReplicationProbe) Key() Key {
	return Key{Kind: KindReplication}
}

func (p *ReplicationProbe) Probe(ctx context.Context) (any, error) {
	client, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	payload := &ReplicationPayload{}

	payload.PluginVersion, err = p.pluginVersion(ctx, client)
	if err != nil {
		return nil, err
	}
	payload.Agreements, err = p.agreements(ctx, client)
	if err != nil {
		return nil, err
	}
	payload.Replicas, err = p.replicas(ctx, client)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (p *ReplicationProbe) pluginVersion(ctx context.Context, client ldapx.Client) (string, error) {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=plugins,cn=config",
		Scope:  ldapx.ScopeSubtree,
		Filter: "(&(objectClass=nsslapdPlugin)(cn=*Replication*))",
		Attrs:  []string{attrPluginVersion},
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", Failuref(ErrorSearch, "could not get replication plugin entry in config")
	}

	version := entries[0].First(attrPluginVersion, "")
	if version == "" {
		return "", Failuref(ErrorParse, "replication plugin version seems to be empty")
	}
	return version, nil
}

func (p *ReplicationProbe) agreements(ctx context.Context, client ldapx.Client) ([]Agreement, error) {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=config",
		Scope:  ldapx.ScopeSubtree,
		Filter: "(objectClass=nsds5ReplicationAgreement)",
		Attrs: []string{
			attrCN, attrAgreementHost, attrAgreementRoot, attrRUV,
			attrUpdateStart, attrUpdateEnd, attrChangesSent, attrUpdateStatus,
		},
	})
	if err != nil {
		return nil, err
	}

	agreements := make([]Agreement, 0, len(entries))
	for _, entry := range entries {
		agreement := Agreement{
			CN:   entry.First(attrCN, unknownField),
			Host: entry.First(attrAgreementHost, unknownField),
			Root: entry.First(attrAgreementRoot, unknownField),
		}

		for _, ruvLine := range entry.Attrs[attrRUV] {
			ruv, err := ParseRUV(ruvLine)
			if err != nil {
				return nil, Failuref(ErrorParse, "agreement %s ruv: %v", agreement.CN, err)
			}
			agreement.RUVs = append(agreement.RUVs, ruv)
		}

		start, err := time.Parse(agreementTimeLayout, entry.First(attrUpdateStart, ""))
		if err != nil {
			return nil, Failuref(ErrorParse, "agreement %s update start: %v", agreement.CN, err)
		}
		end, err := time.Parse(agreementTimeLayout, entry.First(attrUpdateEnd, ""))
		if err != nil {
			return nil, Failuref(ErrorParse, "agreement %s update end: %v", agreement.CN, err)
		}
		// Update start minus update end: negative for a completed update,
		// positive while one is still running.
		agreement.LastUpdateDurationSeconds = int64(start.Sub(end) / time.Second)

		agreement.ChangesSent = ParseChangesSent(entry.First(attrChangesSent, ""))

		if err := json.Unmarshal([]byte(entry.First(attrUpdateStatus, "")), &agreement.Status); err != nil {
			return nil, Failuref(ErrorParse, "agreement %s status: %v", agreement.CN, err)
		}

		agreements = append(agreements, agreement)
	}

	return agreements, nil
}

func (p *ReplicationProbe) replicas(ctx context.Context, client ldapx.Client) ([]Replica, error) {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   "cn=config",
		Scope:  ldapx.ScopeSubtree,
		Filter: "(objectClass=nsds5replica)",
		Attrs:  []string{attrAgreementRoot, attrReplicaName, attrReplicaChanges, attrReplicaActive},
	})
	if err != nil {
		return nil, err
	}

	replicas := make([]Replica, 0, len(entries))
	for _, entry := range entries {
		changes, err := strconv.ParseUint(entry.First(attrReplicaChanges, ""), 10, 64)
		if err != nil {
			return nil, Failuref(ErrorParse, "replica change count: %v", err)
		}
		active, err := strconv.ParseUint(entry.First(attrReplicaActive, ""), 10, 8)
		if err != nil {
			return nil, Failuref(ErrorParse, "replica reap active: %v", err)
		}

		replicas = append(replicas, Replica{
			Root:         entry.First(attrAgreementRoot, unknownField),
			Name:         entry.First(attrReplicaName, unknownField),
			ChangesCount: changes,
			ReapActive:   active != 0,
		})
	}

	return replicas, nil
}
