// Package health probes the service's dependencies for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Status classifies the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// Probe examines one dependency.
type Probe func(ctx context.Context) error

// Result is one dependency's outcome.
type Result struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Report is the aggregate health picture. A failing critical dependency
// makes the service unhealthy; a failing optional one only degrades it.
type Report struct {
	Status       Status            `json:"status"`
	Dependencies map[string]Result `json:"dependencies"`
	CheckedAt    time.Time         `json:"checkedAt"`
}

type check struct {
	name     string
	critical bool
	probe    Probe
}

// Prober runs registered checks concurrently, each under its own timeout.
type Prober struct {
	mu      sync.Mutex
	checks  []check
	timeout time.Duration
}

// NewProber builds a prober; a non-positive timeout uses the default.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Prober{timeout: timeout}
}

// Register adds a named check. Critical checks gate the unhealthy
// classification; everything else only degrades.
func (p *Prober) Register(name string, critical bool, probe Probe) {
	if name == "" || probe == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, check{name: name, critical: critical, probe: probe})
}

// Run executes every check and classifies the aggregate.
func (p *Prober) Run(ctx context.Context) Report {
	p.mu.Lock()
	checks := append([]check(nil), p.checks...)
	p.mu.Unlock()

	report := Report{
		Status:       StatusHealthy,
		Dependencies: make(map[string]Result, len(checks)),
		CheckedAt:    time.Now().UTC(),
	}

	var (
		resultMu sync.Mutex
		group    conc.WaitGroup
	)
	criticalFailed := false
	optionalFailed := false

	for _, c := range checks {
		c := c
		group.Go(func() {
			checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			started := time.Now()
			err := c.probe(checkCtx)
			latency := time.Since(started).Milliseconds()

			result := Result{Healthy: err == nil, LatencyMs: latency}
			if err != nil {
				result.Error = err.Error()
			}

			resultMu.Lock()
			report.Dependencies[c.name] = result
			if err != nil {
				if c.critical {
					criticalFailed = true
				} else {
					optionalFailed = true
				}
			}
			resultMu.Unlock()
		})
	}
	group.Wait()

	switch {
	case criticalFailed:
		report.Status = StatusUnhealthy
	case optionalFailed:
		report.Status = StatusDegraded
	}
	return report
}
