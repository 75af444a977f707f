// Package probe defines the probe result model shared by the scheduler,
// the state store and the presentation surfaces.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/ldapx"
)

// Kind identifies a class of probe.
type Kind string

const (
	KindMonitor     Kind = "monitor"
	KindReplication Kind = "replication"
	KindGids        Kind = "gids"
	KindQuery       Kind = "query"
	KindDsctl       Kind = "dsctl"
)

// Key uniquely identifies a registered probe. Query is only set for
// KindQuery probes, where it holds the configured query name.
type Key struct {
	Kind  Kind
	Query string
}

// QueryKey returns the key for a named custom query probe.
func QueryKey(name string) Key {
	return Key{Kind: KindQuery, Query: name}
}

func (k Key) String() string {
	if k.Query != "" {
		return string(k.Kind) + ":" + k.Query
	}
	return string(k.Kind)
}

// HealthFlag is the derived per-probe health state. Unknown holds until
// the probe has completed at least once and is never re-entered after that.
type HealthFlag string

const (
	HealthUnknown  HealthFlag = "unknown"
	HealthHealthy  HealthFlag = "healthy"
	HealthDegraded HealthFlag = "degraded"
)

// ErrorKind classifies probe failures so operators and tests can tell
// "tool ran but reported an ambiguous result" from "tool did not run".
type ErrorKind string

const (
	ErrorConnect  ErrorKind = "connect"
	ErrorBind     ErrorKind = "bind"
	ErrorSearch   ErrorKind = "search"
	ErrorTimeout  ErrorKind = "timeout"
	ErrorParse    ErrorKind = "parse"
	ErrorExec     ErrorKind = "exec"
	ErrorInternal ErrorKind = "internal"
)

// Failure is a typed probe failure. It implements error so probes can
// return it directly through their error path.
type Failure struct {
	Kind   ErrorKind
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Failuref builds a Failure with a formatted detail string.
func Failuref(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Classify converts an arbitrary error into a Failure. Typed failures pass
// through unchanged, directory client errors map onto the matching kind,
// context deadline errors become timeouts, everything else is internal.
func Classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var le *ldapx.Error
	if errors.As(err, &le) {
		return &Failure{Kind: clientErrorKind(le.Kind), Detail: le.Detail}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: ErrorTimeout, Detail: err.Error()}
	}
	return &Failure{Kind: ErrorInternal, Detail: err.Error()}
}

func clientErrorKind(kind ldapx.ErrorKind) ErrorKind {
	switch kind {
	case ldapx.ErrorConnect:
		return ErrorConnect
	case ldapx.ErrorBind:
		return ErrorBind
	case ldapx.ErrorTimeout:
		return ErrorTimeout
	default:
		return ErrorSearch
	}
}

// Result is the outcome of one probe execution. Exactly one of Payload and
// Err is set. A Result is immutable once constructed.
type Result struct {
	Key        Key
	ObservedAt time.Time
	Payload    any
	Err        *Failure
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Health derives the health flag for this result. It is a pure function of
// the outcome; the state store handles the initial Unknown phase.
func (r Result) Health() HealthFlag {
	if r.OK() {
		return HealthHealthy
	}
	return HealthDegraded
}

// Prober is one schedulable unit of monitoring work.
type Prober interface {
	Key() Key

	// Probe executes a single check and returns its typed payload. Any
	// error is converted to a Failed result at the scheduler task
	// boundary; probes never abort the scheduler.
	Probe(ctx context.Context) (any, error)
}
