package freshness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Probe evaluates one monitored resource. A nil error means it is fresh.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p *probeFunc) Name() string                    { return p.name }
func (p *probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe creates a named probe from a function.
func NewProbe(name string, fn func(ctx context.Context) error) Probe {
	return &probeFunc{name: name, fn: fn}
}

// HTTP checks that url answers GET with a 2xx status.
func HTTP(name, url string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return NewProbe(name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("unreachable: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
}

// Pinger is anything with a reachability check, such as the record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks database reachability.
func Ping(name string, p Pinger) Probe {
	return NewProbe(name, func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("unreachable: %w", err)
		}
		return nil
	})
}

// AgeReader reports document age; satisfied by the state cache.
type AgeReader interface {
	Age(name string) (time.Duration, bool)
}

// CacheAge checks that doc exists and is younger than maxAge.
func CacheAge(ages AgeReader, doc string, maxAge time.Duration) Probe {
	return NewProbe("cache:"+doc, func(context.Context) error {
		age, ok := ages.Age(doc)
		if !ok {
			return fmt.Errorf("missing")
		}
		if age > maxAge {
			return fmt.Errorf("stale: updated %s ago (limit %s)", roundAge(age), maxAge)
		}
		return nil
	})
}

// SuccessLookup answers the last successful run of a job.
type SuccessLookup interface {
	LastSuccess(ctx context.Context, job string) (time.Time, bool, error)
}

// JobGap checks that job has succeeded within maxGap of now.
func JobGap(runs SuccessLookup, job string, maxGap time.Duration, now func() time.Time) Probe {
	if now == nil {
		now = time.Now
	}
	return NewProbe("job:"+job, func(ctx context.Context) error {
		last, ok, err := runs.LastSuccess(ctx, job)
		if err != nil {
			return fmt.Errorf("lookup failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("no successful run recorded")
		}
		gap := now().Sub(last)
		if gap > maxGap {
			return fmt.Errorf("last success %s ago (limit %s)", roundAge(gap), maxGap)
		}
		return nil
	})
}

func roundAge(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Round(time.Minute)
	}
	return d.Round(time.Second)
}
