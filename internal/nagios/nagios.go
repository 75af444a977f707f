// Package nagios renders monitoring-plugin output: a status line with
// perfdata and the matching process exit code.
package nagios

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReturnCode is a monitoring-plugin exit code.
type ReturnCode int

const (
	OK       ReturnCode = 0
	Warning  ReturnCode = 1
	Critical ReturnCode = 2
	Unknown  ReturnCode = 3
)

func (rc ReturnCode) String() string {
	switch rc {
	case OK:
		return "OK"
	case Warning:
		return "WARN"
	case Critical:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

// Warn escalates OK to Warning. Critical and Unknown are left alone.
func (rc *ReturnCode) Warn() {
	if *rc == OK {
		*rc = Warning
	}
}

// Crit escalates OK or Warning to Critical.
func (rc *ReturnCode) Crit() {
	if *rc == OK || *rc == Warning {
		*rc = Critical
	}
}

// Value is an optional perfdata number. The zero value renders as the
// empty string, which perfdata grammar treats as "not provided".
type Value struct {
	set     bool
	num     float64
	integer bool
}

// Int wraps an integer perfdata value.
func Int(v uint64) Value {
	return Value{set: true, num: float64(v), integer: true}
}

// Float wraps a floating-point perfdata value.
func Float(v float64) Value {
	return Value{set: true, num: v}
}

func (v Value) String() string {
	if !v.set {
		return ""
	}
	if v.integer {
		return strconv.FormatUint(uint64(v.num), 10)
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// PerfData is a single labelled measurement in the output.
type PerfData struct {
	Value Value
	Warn  Value
	Crit  Value
	Min   Value
	Max   Value
	Unit  string
}

func (p PerfData) String() string {
	return fmt.Sprintf("%s%s;%s;%s;%s;%s", p.Value, p.Unit, p.Warn, p.Crit, p.Min, p.Max)
}

type perfItem struct {
	label string
	data  PerfData
}

// Result accumulates a check outcome. Perfdata keeps insertion order.
type Result struct {
	Code        ReturnCode
	Description string

	perf []perfItem
}

// Describef sets the human-readable part of the status line.
func (r *Result) Describef(format string, args ...any) {
	r.Description = fmt.Sprintf(format, args...)
}

// Add appends a perfdata item. Quotes and equals signs are stripped
// from the label so the output stays parseable.
func (r *Result) Add(label string, data PerfData) {
	label = strings.NewReplacer("'", "", "=", "").Replace(label)
	r.perf = append(r.perf, perfItem{label: label, data: data})
}

// Fail marks the result Unknown with the error as description. Any
// previously set description is replaced.
func (r *Result) Fail(err error) {
	r.Code = Unknown
	r.Description = err.Error()
}

// Limit is an optional threshold taken from a command-line flag.
type Limit struct {
	Value float64
	Set   bool
}

// PerfValue renders the limit for the warn/crit perfdata slots.
func (l Limit) PerfValue() Value {
	if !l.Set {
		return Value{}
	}
	return Float(l.Value)
}

// WarnAtLeast raises Warning when val has reached the limit.
func (r *Result) WarnAtLeast(val float64, l Limit) {
	if l.Set && val >= l.Value {
		r.Code.Warn()
	}
}

// CritAtLeast raises Critical when val has reached the limit.
func (r *Result) CritAtLeast(val float64, l Limit) {
	if l.Set && val >= l.Value {
		r.Code.Crit()
	}
}

// WarnAtMost raises Warning when val has dropped to the limit or below.
func (r *Result) WarnAtMost(val float64, l Limit) {
	if l.Set && val <= l.Value {
		r.Code.Warn()
	}
}

// CritAtMost raises Critical when val has dropped to the limit or below.
func (r *Result) CritAtMost(val float64, l Limit) {
	if l.Set && val <= l.Value {
		r.Code.Crit()
	}
}

// Render produces the full status line, "CODE: description | perfdata".
// The separator and the trailing space after each perfdata item are always
// emitted, even when no perfdata was added.
func (r *Result) Render() string {
	var sb strings.Builder
	sb.WriteString(r.Code.String())
	sb.WriteString(": ")
	sb.WriteString(r.Description)
	sb.WriteString(" | ")
	for _, item := range r.perf {
		fmt.Fprintf(&sb, "'%s'=%s ", item.label, item.data)
	}
	return sb.String()
}

// Exit prints the status line to stdout and terminates the process
// with the matching exit code.
func (r *Result) Exit() {
	fmt.Println(r.Render())
	os.Exit(int(r.Code))
}
