// Package agent implements the agent-check protocol surface: a TCP
// responder that maps the current probe state and operator marks onto one
// status line per connection, plus a small HTTP admin API for the marks.
package agent

import (
	"fmt"
	"strings"
)

// Status is the agent-check status word.
type Status int

const (
	StatusUp Status = iota
	StatusDown
	StatusFail
	StatusStopped
	StatusMaintReady
	StatusMaint
)

// Response is one agent-check reply under construction. The evaluation
// order matters: later calls may overwrite the status set by earlier ones.
type Response struct {
	status Status

	// MaxConn and Weight are only rendered for up/ready states.
	MaxConn *uint64
	Weight  *uint64

	reason string
}

// NewUp returns a response that starts in the up state.
func NewUp() *Response {
	return &Response{status: StatusUp}
}

// NewDown returns a response that starts in the down state.
func NewDown() *Response {
	return &Response{status: StatusDown}
}

// Drain sets the weight to zero so the load balancer stops routing new
// sessions without breaking existing ones.
func (r *Response) Drain() *Response {
	w := uint64(0)
	r.Weight = &w
	return r
}

// Maintenance flips the backend into maintenance.
func (r *Response) Maintenance() *Response {
	r.status = StatusMaint
	return r
}

// UpAndReady restores full weight and clears any failure reason. A
// backend in maintenance comes back as ready rather than up.
func (r *Response) UpAndReady() *Response {
	w := uint64(100)
	r.Weight = &w
	r.reason = ""
	if r.status == StatusMaint {
		r.status = StatusMaintReady
	} else {
		r.status = StatusUp
	}
	return r
}

// Fail marks the backend failed with an optional reason.
func (r *Response) Fail(reason string) *Response {
	r.status = StatusFail
	r.reason = reason
	return r
}

// Stopped marks the backend administratively stopped.
func (r *Response) Stopped(reason string) *Response {
	r.status = StatusStopped
	r.reason = reason
	return r
}

// Down marks the backend down.
func (r *Response) Down(reason string) *Response {
	r.status = StatusDown
	r.reason = reason
	return r
}

// Status returns the current status word.
func (r *Response) Status() Status {
	return r.status
}

// String renders the agent-check line, newline-terminated. Reasons are
// collapsed to a single ASCII line; weight and maxconn only appear for
// states the load balancer accepts them in.
func (r *Response) String() string {
	var status string
	switch r.status {
	case StatusUp:
		status = "up"
	case StatusDown:
		status = "down"
	case StatusFail:
		status = "fail"
	case StatusStopped:
		status = "stopped"
	case StatusMaintReady:
		status = "ready"
	case StatusMaint:
		status = "maint"
	}

	var reason string
	switch r.status {
	case StatusFail, StatusStopped, StatusDown:
		if r.reason != "" {
			reason = " #" + sanitizeReason(r.reason)
		}
	}

	var weight, maxconn string
	if r.status == StatusUp || r.status == StatusMaintReady {
		if r.Weight != nil {
			weight = fmt.Sprintf(" weight:%d%%", *r.Weight)
		}
		if r.MaxConn != nil {
			maxconn = fmt.Sprintf(" maxconn:%d", *r.MaxConn)
		}
	}

	return status + weight + maxconn + reason + "\n"
}

func sanitizeReason(reason string) string {
	reason = strings.ReplaceAll(strings.TrimSpace(reason), "\n", " ")
	var sb strings.Builder
	for _, c := range reason {
		if c < 128 {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
