// Package freshness is the watchdog. It probes liveness, database
// reachability, cache age, and job success gaps, and sends one aggregated
// alert when any probe fails.
package freshness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HelloWorldSungin/claude-strategist/internal/log"
	"github.com/HelloWorldSungin/claude-strategist/internal/notify"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 10 * time.Second

// Report is the outcome of one check.
type Report struct {
	CheckedAt time.Time `json:"checked_at"`
	Issues    []string  `json:"issues"`
	Probes    int       `json:"probes"`
}

// OK reports whether every probe passed.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// Monitor runs probes and alerts.
type Monitor struct {
	probes   []Probe
	notifier notify.Notifier
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// OnResult, when set, observes each probe outcome.
	OnResult func(probe string, err error)

	mu   sync.RWMutex
	last *Report
}

// New creates a monitor. A nil notifier disables alerts.
func New(probes []Probe, n notify.Notifier, probeTimeout time.Duration) *Monitor {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Monitor{
		probes:   probes,
		notifier: n,
		timeout:  probeTimeout,
		logger:   log.WithComponent("freshness"),
		now:      time.Now,
	}
}

// Check runs every probe concurrently and returns the issues in probe order.
// A probe that errors, hangs past its timeout, or panics yields an issue
// without affecting the others.
func (m *Monitor) Check(ctx context.Context) []string {
	results := make([]error, len(m.probes))

	var g errgroup.Group
	for i, p := range m.probes {
		g.Go(func() error {
			results[i] = m.runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	issues := []string{}
	for i, err := range results {
		name := m.probes[i].Name()
		if m.OnResult != nil {
			m.OnResult(name, err)
		}
		if err != nil {
			issues = append(issues, name+": "+err.Error())
		}
	}

	m.mu.Lock()
	m.last = &Report{CheckedAt: m.now(), Issues: issues, Probes: len(m.probes)}
	m.mu.Unlock()
	return issues
}

func (m *Monitor) runProbe(ctx context.Context, p Probe) error {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- p.Check(pctx)
	}()

	select {
	case err := <-done:
		return err
	case <-pctx.Done():
		return fmt.Errorf("probe timed out after %s", m.timeout)
	}
}

// CheckAndAlert runs Check and sends a single aggregated alert on issues.
func (m *Monitor) CheckAndAlert(ctx context.Context) []string {
	issues := m.Check(ctx)
	if len(issues) == 0 {
		m.logger.Debug("all probes fresh", "probes", len(m.probes))
		return nil
	}
	m.logger.Warn("freshness issues detected", "count", len(issues))
	notify.BestEffort(ctx, m.notifier, m.logger, FormatAlert(issues))
	return issues
}

// FormatAlert renders issues as one message.
func FormatAlert(issues []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Freshness watchdog: %d issue(s)\n", len(issues))
	for _, i := range issues {
		b.WriteString("- " + i + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Last returns the most recent report, if a check has run.
func (m *Monitor) Last() (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Report{}, false
	}
	r := *m.last
	r.Issues = append([]string(nil), m.last.Issues...)
	return r, true
}

// Run checks immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.logger.Info("freshness monitor started", "interval", interval.String(), "probes", len(m.probes))
	m.CheckAndAlert(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("freshness monitor stopped")
			return nil
		case <-ticker.C:
			m.CheckAndAlert(ctx)
		}
	}
}
