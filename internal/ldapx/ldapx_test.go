package ldapx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

func TestEntryFirst(t *testing.T) {
	entry := Entry{DN: "uid=a,dc=x", Attrs: map[string][]string{
		"cn":   {"Alice", "Al"},
		"mail": {},
	}}

	tests := []struct {
		attr     string
		fallback string
		expected string
	}{
		{"cn", "none", "Alice"},
		{"mail", "none", "none"},
		{"missing", "none", "none"},
		{"missing", "", ""},
	}

	for _, tt := range tests {
		if got := entry.First(tt.attr, tt.fallback); got != tt.expected {
			t.Errorf("First(%q, %q) = %q, want %q", tt.attr, tt.fallback, got, tt.expected)
		}
	}
}

func TestClassifySearchErr(t *testing.T) {
	req := SearchRequest{Base: "dc=x", Filter: "(objectClass=*)"}

	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{
			name:     "time limit exceeded",
			err:      ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("time limit")),
			expected: ErrorTimeout,
		},
		{
			name:     "no such object",
			err:      ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")),
			expected: ErrorSearch,
		},
		{
			name:     "network error",
			err:      errors.New("connection reset"),
			expected: ErrorSearch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySearchErr(req, tt.err); got.Kind != tt.expected {
				t.Errorf("classifySearchErr() kind = %q, want %q", got.Kind, tt.expected)
			}
		})
	}
}

// fakeSearcher serves canned result pages, issuing a continuation cookie
// whenever more pages remain.
type fakeSearcher struct {
	pages [][]*ldap.Entry
	calls int
}

func (f *fakeSearcher) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	page := f.pages[f.calls]
	f.calls++

	res := &ldap.SearchResult{Entries: page}
	if f.calls < len(f.pages) {
		ctrl := ldap.NewControlPaging(0)
		ctrl.SetCookie([]byte("next"))
		res.Controls = []ldap.Control{ctrl}
	}
	return res, nil
}

func (f *fakeSearcher) Close() error { return nil }

func pagedEntries(ns ...int) []*ldap.Entry {
	entries := make([]*ldap.Entry, len(ns))
	for i, n := range ns {
		entries[i] = ldap.NewEntry(fmt.Sprintf("uid=u%d,dc=x", n), nil)
	}
	return entries
}

func TestSearchFollowsPagingCookies(t *testing.T) {
	fake := &fakeSearcher{pages: [][]*ldap.Entry{
		pagedEntries(1, 2),
		pagedEntries(3, 4),
		pagedEntries(5),
	}}
	c := &conn{ldap: fake, pageSize: 2}

	entries, err := c.Search(context.Background(), SearchRequest{
		Base:   "dc=x",
		Scope:  ScopeSubtree,
		Filter: "(objectClass=*)",
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("Search() returned %d entries, want 5", len(entries))
	}
	if fake.calls != 3 {
		t.Errorf("Search() issued %d requests, want 3", fake.calls)
	}
}

func TestSearchMaxEntriesStopsMidPage(t *testing.T) {
	fake := &fakeSearcher{pages: [][]*ldap.Entry{
		pagedEntries(1, 2),
		pagedEntries(3, 4),
		pagedEntries(5),
	}}
	c := &conn{ldap: fake, pageSize: 2}

	entries, err := c.Search(context.Background(), SearchRequest{
		Base:       "dc=x",
		Scope:      ScopeSubtree,
		Filter:     "(objectClass=*)",
		MaxEntries: 3,
	})
	if err != nil {
		t.Fatalf("truncation must not be an error, got: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Search() returned %d entries, want exactly 3", len(entries))
	}
	if entries[2].DN != "uid=u3,dc=x" {
		t.Errorf("last entry = %q, want uid=u3,dc=x", entries[2].DN)
	}
	// The limit was hit on the first entry of page two; the remaining
	// cookie must not be followed.
	if fake.calls != 2 {
		t.Errorf("Search() issued %d requests, want 2", fake.calls)
	}
}

func TestConfigConnectorUsesConfig(t *testing.T) {
	// Dialing an unresolvable URI must surface as a typed connect error.
	connect := Config{URI: "ldap://host.invalid:389"}.Connector()

	_, err := connect(context.Background())
	var clientErr *Error
	if !errors.As(err, &clientErr) || clientErr.Kind != ErrorConnect {
		t.Fatalf("expected a connect error, got %v", err)
	}
}
