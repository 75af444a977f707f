package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

// QueryPayload is the result of one custom query execution. The checksum
// covers DNs and sorted attribute values, so it changes exactly when the
// query's result set changes.
type QueryPayload struct {
	ObjectCount uint64
	AttrsCount  uint64
	Bytes       uint64
	Duration    time.Duration
	ResultCode  int
	Checksum    string
}

// QueryProbe runs one configured directory query on its own schedule.
// Each configured query is registered as an independent probe; queries
// share nothing with each other or with the built-in probes.
type QueryProbe struct {
	Connect ldapx.Connector

	Name       string
	Base       string
	Filter     string
	Attrs      []string
	MaxEntries int
}

func (p *QueryProbe) Key() Key {
	return QueryKey(p.Name)
}

func (p *QueryProbe) Probe(ctx context.Context) (any, error) {
	client, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:       p.Base,
		Scope:      ldapx.ScopeSubtree,
		Filter:     p.Filter,
		Attrs:      p.Attrs,
		MaxEntries: p.MaxEntries,
	})
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	payload := &QueryPayload{
		ObjectCount: uint64(len(entries)),
		Duration:    duration,
		Checksum:    checksumEntries(entries),
	}
	for _, entry := range entries {
		payload.AttrsCount += uint64(len(entry.Attrs))
		for _, vals := range entry.Attrs {
			for _, val := range vals {
				payload.Bytes += uint64(len(val))
			}
		}
	}

	return payload, nil
}

// checksumEntries hashes the result set in a canonical order: entries by
// DN, attributes by name, values sorted.
func checksumEntries(entries []ldapx.Entry) string {
	type flatEntry struct {
		dn   string
		body string
	}

	flat := make([]flatEntry, 0, len(entries))
	for _, entry := range entries {
		names := make([]string, 0, len(entry.Attrs))
		for name := range entry.Attrs {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		for _, name := range names {
			vals := slices.Clone(entry.Attrs[name])
			sort.Strings(vals)
			fmt.Fprintf(&sb, "%s=%s;", name, strings.Join(vals, ","))
		}
		flat = append(flat, flatEntry{dn: entry.DN, body: sb.String()})
	}

	sort.Slice(flat, func(i, j int) bool { return flat[i].dn < flat[j].dn })

	hasher := sha256.New()
	for _, e := range flat {
		fmt.Fprintf(hasher, "%s\n%s\n", e.dn, e.body)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
