package freshness

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureNotifier) Notify(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

type fakeAges map[string]time.Duration

func (f fakeAges) Age(name string) (time.Duration, bool) {
	d, ok := f[name]
	return d, ok
}

type fakeRuns map[string]time.Time

func (f fakeRuns) LastSuccess(_ context.Context, job string) (time.Time, bool, error) {
	if job == "broken" {
		return time.Time{}, false, errors.New("db locked")
	}
	t, ok := f[job]
	return t, ok, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestAllProbesPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Now()
	n := &captureNotifier{}
	m := New([]Probe{
		HTTP("liveness", srv.URL, srv.Client()),
		Ping("database", pinger{}),
		CacheAge(fakeAges{"portfolio": time.Minute}, "portfolio", time.Hour),
		JobGap(fakeRuns{"digest": now.Add(-time.Hour)}, "digest", 2*time.Hour, func() time.Time { return now }),
	}, n, time.Second)

	issues := m.CheckAndAlert(context.Background())
	assert.Empty(t, issues)
	assert.Empty(t, n.texts)

	r, ok := m.Last()
	require.True(t, ok)
	assert.True(t, r.OK())
	assert.Equal(t, 4, r.Probes)
}

func TestFailuresAreIsolatedAndAggregated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	now := time.Now()
	var seen sync.Map
	n := &captureNotifier{}
	m := New([]Probe{
		HTTP("liveness", srv.URL, srv.Client()),
		Ping("database", pinger{err: errors.New("connection refused")}),
		NewProbe("panicky", func(context.Context) error { panic("boom") }),
		NewProbe("slow", func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return nil
		}),
		CacheAge(fakeAges{"portfolio": 3 * time.Hour}, "portfolio", time.Hour),
		CacheAge(fakeAges{}, "watchlist", time.Hour),
		JobGap(fakeRuns{"digest": now.Add(-48 * time.Hour)}, "digest", 25*time.Hour, func() time.Time { return now }),
		JobGap(fakeRuns{}, "never", time.Hour, nil),
		JobGap(fakeRuns{}, "broken", time.Hour, nil),
		NewProbe("healthy", func(context.Context) error { return nil }),
	}, n, 200*time.Millisecond)
	m.OnResult = func(name string, err error) { seen.Store(name, err == nil) }

	issues := m.CheckAndAlert(context.Background())
	require.Len(t, issues, 9)
	assert.Equal(t, "liveness: status 503", issues[0])
	assert.Contains(t, issues[1], "database: unreachable")
	assert.Contains(t, issues[2], "panicky: probe panicked: boom")
	assert.Contains(t, issues[3], "slow: probe timed out")
	assert.Contains(t, issues[4], "cache:portfolio: stale")
	assert.Equal(t, "cache:watchlist: missing", issues[5])
	assert.Contains(t, issues[6], "job:digest: last success 48h0m0s ago")
	assert.Equal(t, "job:never: no successful run recorded", issues[7])
	assert.Contains(t, issues[8], "job:broken: lookup failed")

	require.Len(t, n.texts, 1, "exactly one aggregated alert")
	assert.True(t, strings.HasPrefix(n.texts[0], "Freshness watchdog: 9 issue(s)"))

	ok, _ := seen.Load("healthy")
	assert.Equal(t, true, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	m := New([]Probe{NewProbe("count", func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})}, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 20*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLastBeforeCheck(t *testing.T) {
	_, ok := New(nil, nil, 0).Last()
	assert.False(t, ok)
}
