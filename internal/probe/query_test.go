package probe

import (
	"context"
	"testing"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

func TestChecksumEntriesOrderIndependent(t *testing.T) {
	a := ldapx.Entry{DN: "uid=a,dc=x", Attrs: map[string][]string{
		"cn": {"Alice"}, "mail": {"a@x", "alice@x"},
	}}
	b := ldapx.Entry{DN: "uid=b,dc=x", Attrs: map[string][]string{
		"cn": {"Bob"},
	}}

	// Same set, different entry and value order.
	shuffled := ldapx.Entry{DN: "uid=a,dc=x", Attrs: map[string][]string{
		"mail": {"alice@x", "a@x"}, "cn": {"Alice"},
	}}

	first := checksumEntries([]ldapx.Entry{a, b})
	second := checksumEntries([]ldapx.Entry{b, shuffled})
	if first != second {
		t.Errorf("checksum depends on ordering: %s != %s", first, second)
	}
}

func TestChecksumEntriesDetectsChanges(t *testing.T) {
	base := []ldapx.Entry{{DN: "uid=a,dc=x", Attrs: map[string][]string{"cn": {"Alice"}}}}
	changed := []ldapx.Entry{{DN: "uid=a,dc=x", Attrs: map[string][]string{"cn": {"Alicia"}}}}

	if checksumEntries(base) == checksumEntries(changed) {
		t.Error("checksum did not change with the result set")
	}
}

func TestQueryProbe(t *testing.T) {
	client := &fakeClient{byFilter: map[string][]ldapx.Entry{
		"(objectClass=person)": {
			{DN: "uid=a,dc=x", Attrs: map[string][]string{"cn": {"Alice"}, "sn": {"A"}}},
			{DN: "uid=b,dc=x", Attrs: map[string][]string{"cn": {"Bob"}}},
		},
	}}

	p := &QueryProbe{
		Connect: connectTo(client),
		Name:    "people",
		Base:    "dc=x",
		Filter:  "(objectClass=person)",
	}

	if p.Key().String() != "query:people" {
		t.Errorf("Key() = %q, want query:people", p.Key().String())
	}

	raw, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() returned %v", err)
	}
	payload := raw.(*QueryPayload)

	if payload.ObjectCount != 2 {
		t.Errorf("ObjectCount = %d, want 2", payload.ObjectCount)
	}
	if payload.AttrsCount != 3 {
		t.Errorf("AttrsCount = %d, want 3", payload.AttrsCount)
	}
	// "Alice" + "A" + "Bob" = 9 bytes of attribute values.
	if payload.Bytes != 9 {
		t.Errorf("Bytes = %d, want 9", payload.Bytes)
	}
	if payload.Checksum == "" {
		t.Error("expected a checksum")
	}
	if payload.ResultCode != 0 {
		t.Errorf("ResultCode = %d, want 0", payload.ResultCode)
	}
}
