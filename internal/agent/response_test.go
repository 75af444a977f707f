package agent

import "testing"

func TestResponseString(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Response
		expected string
	}{
		{
			name:     "up and ready",
			build:    func() *Response { return NewUp().UpAndReady() },
			expected: "up weight:100%\n",
		},
		{
			name:     "drain keeps the backend up with zero weight",
			build:    func() *Response { return NewUp().Drain() },
			expected: "up weight:0%\n",
		},
		{
			name:     "maintenance",
			build:    func() *Response { return NewUp().Maintenance() },
			expected: "maint\n",
		},
		{
			name:     "ready after maintenance",
			build:    func() *Response { return NewUp().Maintenance().UpAndReady() },
			expected: "ready weight:100%\n",
		},
		{
			name:     "fail with reason",
			build:    func() *Response { return NewUp().Fail("ldap is not reachable") },
			expected: "fail #ldap is not reachable\n",
		},
		{
			name:     "fail without reason",
			build:    func() *Response { return NewUp().Fail("") },
			expected: "fail\n",
		},
		{
			name:     "stopped",
			build:    func() *Response { return NewUp().Stopped("server stopped by operator") },
			expected: "stopped #server stopped by operator\n",
		},
		{
			name:     "down",
			build:    func() *Response { return NewDown() },
			expected: "down\n",
		},
		{
			name:     "reason is collapsed to one ascii line",
			build:    func() *Response { return NewUp().Fail("first\nsecondé") },
			expected: "fail #first second\n",
		},
		{
			name: "maxconn only for up states",
			build: func() *Response {
				r := NewUp().UpAndReady()
				mc := uint64(250)
				r.MaxConn = &mc
				return r
			},
			expected: "up weight:100% maxconn:250\n",
		},
		{
			name: "weight suppressed on fail",
			build: func() *Response {
				r := NewUp().UpAndReady()
				return r.Fail("broken")
			},
			expected: "fail #broken\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build().String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
