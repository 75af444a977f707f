// Package ldapx wraps the directory-protocol client used by all LDAP
// probes: connect/bind handling, paged subtree searches and typed client
// errors that callers classify into failure kinds.
package ldapx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ErrorKind tells which stage of a client operation failed.
type ErrorKind string

const (
	ErrorConnect ErrorKind = "connect"
	ErrorBind    ErrorKind = "bind"
	ErrorSearch  ErrorKind = "search"
	ErrorTimeout ErrorKind = "timeout"
)

// Error is a typed client error.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// DefaultPageSize matches the server-side default size limit minus one so a
// single page never trips the limit.
const DefaultPageSize = 999

// Scope selects the depth of a search.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeSubtree
)

// Config describes how to reach and authenticate against the directory.
type Config struct {
	URI          string
	BindDN       string
	BindPassword string
	VerifyCerts  bool
	PageSize     uint32
	BaseDN       string
}

// Entry is one returned directory entry.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// First returns the first value of an attribute, or fallback if absent.
func (e Entry) First(attr, fallback string) string {
	if vals := e.Attrs[attr]; len(vals) > 0 {
		return vals[0]
	}
	return fallback
}

// SearchRequest describes one search operation. MaxEntries == 0 means
// unbounded; when the limit is reached the search stops early without
// error (truncation is not a failure).
type SearchRequest struct {
	Base       string
	Scope      Scope
	Filter     string
	Attrs      []string
	MaxEntries int
}

// Client issues search operations against an established connection.
type Client interface {
	Search(ctx context.Context, req SearchRequest) ([]Entry, error)
	Close() error
}

// Connector opens a fresh authenticated connection. Probes dial per
// execution; connection reuse across scrapes is deliberately avoided so a
// dead connection never poisons more than one result.
type Connector func(ctx context.Context) (Client, error)

// Connector returns a Connector for this configuration.
func (c Config) Connector() Connector {
	return func(ctx context.Context) (Client, error) {
		return Dial(ctx, c)
	}
}

// searcher is the part of *ldap.Conn the paged search loop needs.
type searcher interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type conn struct {
	ldap     searcher
	pageSize uint32
}

// Dial connects and binds according to cfg. Connect and bind failures come
// back as typed client errors.
func Dial(ctx context.Context, cfg Config) (Client, error) {
	opts := []ldap.DialOpt{
		ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: !cfg.VerifyCerts}),
	}

	l, err := ldap.DialURL(cfg.URI, opts...)
	if err != nil {
		return nil, errorf(ErrorConnect, "dial %s: %v", cfg.URI, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		l.SetTimeout(time.Until(deadline))
	}

	if cfg.BindDN != "" {
		if err := l.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			l.Close()
			return nil, errorf(ErrorBind, "bind as %s: %v", cfg.BindDN, err)
		}
	}

	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &conn{ldap: l, pageSize: pageSize}, nil
}

func (c *conn) Close() error {
	return c.ldap.Close()
}

// Search runs a paged search, following the server-issued continuation
// cookie until exhaustion or until MaxEntries entries have been collected.
func (c *conn) Search(ctx context.Context, req SearchRequest) ([]Entry, error) {
	scope := ldap.ScopeWholeSubtree
	if req.Scope == ScopeBase {
		scope = ldap.ScopeBaseObject
	}

	paging := ldap.NewControlPaging(c.pageSize)
	var entries []Entry

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sr := ldap.NewSearchRequest(
			req.Base, scope, ldap.NeverDerefAliases, 0, 0, false,
			req.Filter, req.Attrs, []ldap.Control{paging},
		)

		res, err := c.ldap.Search(sr)
		if err != nil {
			return nil, classifySearchErr(req, err)
		}

		for _, e := range res.Entries {
			entries = append(entries, convertEntry(e))
			if req.MaxEntries > 0 && len(entries) >= req.MaxEntries {
				return entries, nil
			}
		}

		ctrl := ldap.FindControl(res.Controls, ldap.ControlTypePaging)
		next, ok := ctrl.(*ldap.ControlPaging)
		if !ok || len(next.Cookie) == 0 {
			return entries, nil
		}
		paging.SetCookie(next.Cookie)
	}
}

func convertEntry(e *ldap.Entry) Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}
	return Entry{DN: e.DN, Attrs: attrs}
}

func classifySearchErr(req SearchRequest, err error) *Error {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return errorf(ErrorTimeout, "search %q under %s: %v", req.Filter, req.Base, err)
	}
	return errorf(ErrorSearch, "search %q under %s: %v", req.Filter, req.Base, err)
}

// DetectBase asks the server for its first naming context. Used when the
// configuration leaves the default query base empty.
func DetectBase(ctx context.Context, cfg Config) (string, error) {
	client, err := Dial(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	entries, err := client.Search(ctx, SearchRequest{
		Base:   "",
		Scope:  ScopeBase,
		Filter: "(objectClass=*)",
		Attrs:  []string{"namingContexts"},
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("cannot retrieve naming contexts")
	}

	base := entries[0].First("namingContexts", "")
	if base == "" {
		return "", fmt.Errorf("no naming contexts attribute")
	}
	return base, nil
}
