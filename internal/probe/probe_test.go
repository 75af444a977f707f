package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

func TestKeyString(t *testing.T) {
	tests := []struct {
		key      Key
		expected string
	}{
		{Key{Kind: KindMonitor}, "monitor"},
		{Key{Kind: KindDsctl}, "dsctl"},
		{QueryKey("people"), "query:people"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.key.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"typed failure passes through", Failuref(ErrorBind, "invalid credentials"), ErrorBind},
		{"wrapped typed failure", fmt.Errorf("scrape: %w", Failuref(ErrorSearch, "no such base")), ErrorSearch},
		{"client connect error", &ldapx.Error{Kind: ldapx.ErrorConnect, Detail: "refused"}, ErrorConnect},
		{"client bind error", &ldapx.Error{Kind: ldapx.ErrorBind, Detail: "invalid credentials"}, ErrorBind},
		{"client timeout error", &ldapx.Error{Kind: ldapx.ErrorTimeout, Detail: "time limit"}, ErrorTimeout},
		{"wrapped client search error", fmt.Errorf("scrape: %w", &ldapx.Error{Kind: ldapx.ErrorSearch, Detail: "no such object"}), ErrorSearch},
		{"deadline becomes timeout", context.DeadlineExceeded, ErrorTimeout},
		{"anything else is internal", errors.New("boom"), ErrorInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got.Kind != tt.expected {
				t.Errorf("Classify() kind = %q, want %q", got.Kind, tt.expected)
			}
		})
	}
}

func TestResultHealth(t *testing.T) {
	ok := Result{Key: Key{Kind: KindMonitor}, ObservedAt: time.Now(), Payload: &MonitorPayload{}}
	if !ok.OK() || ok.Health() != HealthHealthy {
		t.Errorf("successful result: OK()=%v Health()=%q", ok.OK(), ok.Health())
	}

	failed := Result{Key: Key{Kind: KindMonitor}, Err: Failuref(ErrorConnect, "refused")}
	if failed.OK() || failed.Health() != HealthDegraded {
		t.Errorf("failed result: OK()=%v Health()=%q", failed.OK(), failed.Health())
	}
}
