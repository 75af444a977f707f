package probe

import "testing"

func TestParseConnectionLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		dn   string
		ip   string
	}{
		{
			name: "full line",
			line: "1:20240101120000Z:3:2:-:cn=directory manager:0:0:0:1:ip=10.1.2.3",
			dn:   "cn=directory manager",
			ip:   "10.1.2.3",
		},
		{
			name: "anonymous bind",
			line: "7:20240101120000Z:1:1:-::0:0:0:2:ip=local",
			dn:   "",
			ip:   "local",
		},
		{
			name: "missing ip field",
			line: "1:20240101120000Z:3:2:-:cn=directory manager:0",
			dn:   "cn=directory manager",
			ip:   "UNKNOWN",
		},
		{
			name: "too short",
			line: "1:2:3",
			dn:   "UNKNOWN",
			ip:   "UNKNOWN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dn, ip := parseConnectionLine(tt.line)
			if dn != tt.dn || ip != tt.ip {
				t.Errorf("parseConnectionLine(%q) = (%q, %q), want (%q, %q)",
					tt.line, dn, ip, tt.dn, tt.ip)
			}
		})
	}
}
