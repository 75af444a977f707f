// Package dsctl runs the external dsctl healthcheck command under a guard
// that keeps at most one process alive, enforces a hard deadline and
// cleans up stale invocations before starting new ones.
package dsctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
)

// DefaultInstance is the dsctl instance name used when none is configured.
const DefaultInstance = "default"

// Output is the captured result of one finished process.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Process is one spawned external command.
type Process interface {
	// Wait blocks until the process exits and returns its output.
	Wait() (Output, error)

	// Kill forcefully terminates the process. Killing an already-exited
	// process is a no-op, not an error.
	Kill() error
}

// Runner spawns external commands. The default runner execs for real;
// tests substitute fakes.
type Runner interface {
	Start(ctx context.Context, argv []string) (Process, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func (r ExecRunner) Start(ctx context.Context, argv []string) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: &stdout, stderr: &stderr}, nil
}

func (p *execProcess) Wait() (Output, error) {
	err := p.cmd.Wait()
	out := Output{Stdout: p.stdout.Bytes(), Stderr: p.stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// invocationState tracks the lifecycle of the single in-flight invocation.
type invocationState string

const (
	stateAbsent      invocationState = "absent"
	stateLive        invocationState = "live"
	stateTerminating invocationState = "terminating"
)

// invocation is the guard's record of the one allowed in-flight process.
type invocation struct {
	proc      Process
	startedAt time.Time
	deadline  time.Time
}

// Guard wraps dsctl invocations. The scheduler calls it from a single
// task, so invocations are naturally serial; the guard still defends
// against a previous process outliving its timeout by terminating it
// before starting the next one.
type Guard struct {
	runner   Runner
	timeout  time.Duration
	instance string

	mu       sync.Mutex
	inflight *invocation

	// onTransition, when set, observes state changes. Used by tests to
	// assert the live -> terminating -> absent sequence.
	onTransition func(from, to invocationState)
}

// NewGuard builds a Guard. A zero timeout disables the hard deadline.
func NewGuard(runner Runner, instance string, timeout time.Duration) *Guard {
	if instance == "" {
		instance = DefaultInstance
	}
	return &Guard{runner: runner, timeout: timeout, instance: instance}
}

// Instance returns the configured dsctl instance name.
func (g *Guard) Instance() string {
	return g.instance
}

func (g *Guard) transition(from, to invocationState) {
	if g.onTransition != nil {
		g.onTransition(from, to)
	}
}

// invoke starts argv after clearing any stale previous invocation, then
// waits for exit or the deadline. Timeout kills the process and returns a
// typed timeout failure.
func (g *Guard) invoke(ctx context.Context, argv []string) (Output, error) {
	g.mu.Lock()
	if stale := g.inflight; stale != nil {
		// Best effort: a kill failure is logged but never blocks the new
		// invocation.
		g.transition(stateLive, stateTerminating)
		if err := stale.proc.Kill(); err != nil {
			slog.Warn("failed to terminate stale dsctl process",
				"instance", g.instance, "error", err)
		}
		g.inflight = nil
		g.transition(stateTerminating, stateAbsent)
	}

	proc, err := g.runner.Start(ctx, argv)
	if err != nil {
		g.mu.Unlock()
		return Output{}, probe.Failuref(probe.ErrorExec, "start %s: %v", strings.Join(argv, " "), err)
	}

	now := time.Now()
	inv := &invocation{proc: proc, startedAt: now}
	if g.timeout > 0 {
		inv.deadline = now.Add(g.timeout)
	}
	g.inflight = inv
	g.transition(stateAbsent, stateLive)
	g.mu.Unlock()

	type waitResult struct {
		out Output
		err error
	}
	done := make(chan waitResult, 1)
	go func() {
		out, err := proc.Wait()
		done <- waitResult{out, err}
	}()

	var timeoutCh <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(time.Until(inv.deadline))
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-done:
		g.clear(inv, stateLive)
		if res.err != nil {
			return res.out, probe.Failuref(probe.ErrorExec, "wait %s: %v", argv[0], res.err)
		}
		return res.out, nil
	case <-timeoutCh:
		g.transition(stateLive, stateTerminating)
		if err := proc.Kill(); err != nil {
			slog.Warn("failed to kill timed-out dsctl process",
				"instance", g.instance, "error", err)
		}
		<-done
		g.clear(inv, stateTerminating)
		return Output{}, probe.Failuref(probe.ErrorTimeout,
			"%s exceeded %s deadline", argv[0], g.timeout)
	}
}

func (g *Guard) clear(inv *invocation, from invocationState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == inv {
		g.inflight = nil
		g.transition(from, stateAbsent)
	}
}

// run invokes argv and fails on non-zero exit.
func (g *Guard) run(ctx context.Context, argv []string) ([]byte, error) {
	out, err := g.invoke(ctx, argv)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		detail := strings.TrimSpace(string(out.Stderr))
		if detail == "" {
			detail = "undefined error"
		}
		return nil, probe.Failuref(probe.ErrorExec, "%s exited %d: %s",
			strings.Join(argv, " "), out.ExitCode, detail)
	}
	return out.Stdout, nil
}

// Severity of a reported healthcheck issue.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// UnmarshalJSON accepts the mixed-case spellings dsctl emits.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToUpper(raw) {
	case "HIGH":
		*s = SeverityHigh
	case "MEDIUM":
		*s = SeverityMedium
	case "LOW":
		*s = SeverityLow
	default:
		return fmt.Errorf("unknown severity %q", raw)
	}
	return nil
}

// Issue is one entry of dsctl's JSON healthcheck report.
type Issue struct {
	DSLE        string   `json:"dsle"`
	Severity    Severity `json:"severity"`
	Items       []string `json:"items"`
	Detail      string   `json:"detail"`
	Fix         string   `json:"fix"`
	Description string   `json:"description"`
}

// ListChecks returns the set of known check patterns ("category:*"),
// skipping the logs checks, which can grow without bound.
func (g *Guard) ListChecks(ctx context.Context) ([]string, error) {
	stdout, err := g.run(ctx, []string{
		"sudo", "dsctl", "--json", g.instance, "healthcheck", "--list-checks",
	})
	if err != nil {
		return nil, err
	}
	return parseCheckList(string(stdout)), nil
}

// parseCheckList collapses "category:check" lines into unique
// "category:*" patterns, excluding logs.
func parseCheckList(output string) []string {
	seen := make(map[string]struct{})
	var patterns []string
	for _, line := range strings.Split(output, "\n") {
		category, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.HasPrefix(category, "logs") {
			continue
		}
		pattern := category + ":*"
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		patterns = append(patterns, pattern)
	}
	return patterns
}

// Check runs one healthcheck pattern and parses its JSON report. Malformed
// output is a parse failure, distinct from timeout and exec failures.
func (g *Guard) Check(ctx context.Context, pattern string) ([]Issue, error) {
	stdout, err := g.run(ctx, []string{
		"sudo", "dsctl", "--json", g.instance, "healthcheck", "--check", pattern,
	})
	if err != nil {
		return nil, err
	}

	var issues []Issue
	if err := json.Unmarshal(stdout, &issues); err != nil {
		return nil, probe.Failuref(probe.ErrorParse,
			"healthcheck %s output: %v", pattern, err)
	}
	return issues, nil
}

// Healthcheck runs every known check pattern and collects the issues.
func (g *Guard) Healthcheck(ctx context.Context) ([]Issue, error) {
	patterns, err := g.ListChecks(ctx)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	for _, pattern := range patterns {
		found, err := g.Check(ctx, pattern)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

// Payload is the health probe result: healthy when no issues were found.
type Payload struct {
	Healthy bool
	Issues  []Issue
}

// HealthProbe adapts the guard into a schedulable probe.
type HealthProbe struct {
	Guard *Guard
}

func (p *HealthProbe) Key() probe.Key {
	return probe.Key{Kind: probe.KindDsctl}
}

func (p *HealthProbe) Probe(ctx context.Context) (any, error) {
	issues, err := p.Guard.Healthcheck(ctx)
	if err != nil {
		return nil, err
	}
	return &Payload{Healthy: len(issues) == 0, Issues: issues}, nil
}
