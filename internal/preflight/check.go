// Package preflight checks that the host and the configured dependencies
// can run amanrag: disk space, data directory permissions, file
// descriptor limits, and reachability of the embedding model, the
// generation model and Postgres.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns PASS, WARN or FAIL.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Pinger is a dependency that can report whether it answers.
type Pinger interface {
	Available(ctx context.Context) bool
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) bool

// Available implements Pinger.
func (f PingerFunc) Available(ctx context.Context) bool { return f(ctx) }

// Dependency is an external service to probe.
type Dependency struct {
	Name string
	// Target is shown in the message, e.g. a model name or host.
	Target string
	// Pinger is nil when the dependency could not even be constructed;
	// Err then says why.
	Pinger Pinger
	Err    error
	// Required makes a failure critical. Optional dependencies only
	// degrade retrieval.
	Required bool
}

// Checker runs checks.
type Checker struct {
	verbose bool
	output  io.Writer
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints details under each result.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets where PrintResults writes.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// WithTimeout bounds each dependency probe (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunSystem runs the host checks against dataDir.
func (c *Checker) RunSystem(dataDir string) []CheckResult {
	return []CheckResult{
		c.CheckWritePermissions(dataDir),
		c.CheckDiskSpace(dataDir),
		c.CheckFileDescriptors(),
	}
}

// RunAll runs the host checks, then probes each dependency.
func (c *Checker) RunAll(ctx context.Context, dataDir string, deps []Dependency) []CheckResult {
	results := c.RunSystem(dataDir)
	for _, d := range deps {
		results = append(results, c.CheckDependency(ctx, d))
	}
	return results
}

// CheckDependency probes one dependency within the checker's timeout.
func (c *Checker) CheckDependency(ctx context.Context, d Dependency) CheckResult {
	result := CheckResult{Name: d.Name, Required: d.Required}
	failed := StatusFail
	if !d.Required {
		failed = StatusWarn
	}

	if d.Err != nil || d.Pinger == nil {
		result.Status = failed
		result.Message = "not available"
		if d.Err != nil {
			result.Details = d.Err.Error()
		}
		return result
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	if !d.Pinger.Available(pctx) {
		result.Status = failed
		result.Message = fmt.Sprintf("%s is not responding", d.Target)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%s)", d.Target, time.Since(start).Round(time.Millisecond))
	return result
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func SummaryStatus(results []CheckResult) string {
	warnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warnings = true
		}
	}
	if warnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a human-readable report.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "amanrag System Check")
	_, _ = fmt.Fprintln(c.output, "====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(SummaryStatus(results)))
}
