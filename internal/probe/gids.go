package probe

import (
	"context"
	"strconv"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

const (
	attrUID       = "uid"
	attrGidNumber = "gidNumber"
)

// posixAccount is one user entry with a primary group reference.
type posixAccount struct {
	DN        string
	UID       string
	GidNumber int64
}

// GidsPayload maps every primary GID with no corresponding posixGroup to
// the number of accounts referencing it.
type GidsPayload struct {
	Unresolved map[int64]uint64
}

// GidsProbe reports primary GIDs referenced by user entries that no group
// entry provides. This is an asymmetric set difference: extra groups are
// fine, dangling account references are not.
type GidsProbe struct {
	Connect ldapx.Connector

	// Base is the subtree searched for accounts and groups.
	Base string
}

func (p *GidsProbe) Key() Key {
	return Key{Kind: KindGids}
}

func (p *GidsProbe) Probe(ctx context.Context) (any, error) {
	client, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	accounts, err := p.loadAccounts(ctx, client)
	if err != nil {
		return nil, err
	}
	groups, err := p.loadGroups(ctx, client)
	if err != nil {
		return nil, err
	}

	return &GidsPayload{Unresolved: missingGids(accounts, groups)}, nil
}

func (p *GidsProbe) loadAccounts(ctx context.Context, client ldapx.Client) ([]posixAccount, error) {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   p.Base,
		Scope:  ldapx.ScopeSubtree,
		Filter: "(objectClass=posixAccount)",
		Attrs:  []string{attrGidNumber, attrUID},
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]posixAccount, 0, len(entries))
	for _, entry := range entries {
		gid, err := strconv.ParseInt(entry.First(attrGidNumber, ""), 10, 64)
		if err != nil {
			return nil, Failuref(ErrorParse, "account %s gidNumber: %v", entry.DN, err)
		}
		accounts = append(accounts, posixAccount{
			DN:        entry.DN,
			UID:       entry.First(attrUID, ""),
			GidNumber: gid,
		})
	}
	return accounts, nil
}

func (p *GidsProbe) loadGroups(ctx context.Context, client ldapx.Client) (map[int64]struct{}, error) {
	entries, err := client.Search(ctx, ldapx.SearchRequest{
		Base:   p.Base,
		Scope:  ldapx.ScopeSubtree,
		Filter: "(objectClass=posixGroup)",
		Attrs:  []string{attrGidNumber},
	})
	if err != nil {
		return nil, err
	}

	groups := make(map[int64]struct{}, len(entries))
	for _, entry := range entries {
		gid, err := strconv.ParseInt(entry.First(attrGidNumber, ""), 10, 64)
		if err != nil {
			return nil, Failuref(ErrorParse, "group %s gidNumber: %v", entry.DN, err)
		}
		groups[gid] = struct{}{}
	}
	return groups, nil
}

// missingGids counts, per unresolved GID, how many accounts reference it.
func missingGids(accounts []posixAccount, groups map[int64]struct{}) map[int64]uint64 {
	unresolved := make(map[int64]uint64)
	for _, account := range accounts {
		if _, ok := groups[account.GidNumber]; !ok {
			unresolved[account.GidNumber]++
		}
	}
	return unresolved
}
