package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// Marks are operator-set overrides, flipped through the admin API.
type Marks struct {
	// Drain keeps the backend up with zero weight.
	Drain bool `json:"mark_drain"`

	// SoftMaint marks maintenance but still reports probe failures.
	SoftMaint bool `json:"mark_soft_maint"`

	// HardMaint marks maintenance and masks probe failures.
	HardMaint bool `json:"mark_hard_maint"`

	// Stopped refuses all connections.
	Stopped bool `json:"mark_stopped"`
}

// MarkSet holds the marks under a lock shared by the TCP responder and the
// admin API.
type MarkSet struct {
	mu    sync.RWMutex
	marks Marks
}

func (m *MarkSet) Get() Marks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks
}

func (m *MarkSet) Set(update func(*Marks)) {
	m.mu.Lock()
	update(&m.marks)
	m.mu.Unlock()
}

// Evaluate derives one agent-check response from the current probe state
// and marks. Evaluation order follows the operational precedence: drain
// and soft maintenance still surface failures, hard maintenance and
// stopped mask them.
func Evaluate(store *state.Store, marks Marks) *Response {
	response := NewUp()
	recover := true

	if marks.Drain {
		response.Drain()
		recover = false
	}
	if marks.SoftMaint {
		response.Maintenance()
		recover = false
	}

	evaluateProbes(store, response, &recover)

	if marks.HardMaint {
		response.Maintenance()
		recover = false
	}
	if marks.Stopped {
		response.Stopped("server stopped by operator")
		recover = false
	}

	if recover {
		response.UpAndReady()
	}
	return response
}

func evaluateProbes(store *state.Store, response *Response, recover *bool) {
	var failedQueries []string
	sawAny := false

	for _, entry := range store.Snapshot() {
		key := entry.Result.Key
		sawAny = true
		if entry.Health != probe.HealthDegraded {
			continue
		}
		// KindGids is deliberately absent: unresolved gids are a data
		// hygiene signal for the metrics surface, not a reason to pull
		// a backend out of rotation.
		switch key.Kind {
		case probe.KindQuery:
			failedQueries = append(failedQueries, key.Query)
		case probe.KindMonitor:
			*recover = false
			response.Fail("ldap is not reachable")
		case probe.KindDsctl:
			*recover = false
			response.Fail("dsctl healthcheck reported failure")
		case probe.KindReplication:
			*recover = false
			response.Fail("replication status check failed")
		}
	}

	if len(failedQueries) > 0 {
		sort.Strings(failedQueries)
		*recover = false
		response.Fail(fmt.Sprintf("healthcheck queries failed: %s", strings.Join(failedQueries, ", ")))
	}

	// Until the first probe completes the backend stays down; reporting
	// up before any evidence exists would let traffic in during startup.
	if !sawAny {
		*recover = false
		response.Down("no probe has completed yet")
	}
}
