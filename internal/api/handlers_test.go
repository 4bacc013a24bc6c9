package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/delivery"
	"github.com/HelloWorldSungin/claude-strategist/internal/freshness"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
)

const testToken = "test-key-123"

// mockDispatcher implements Dispatcher for testing
type mockDispatcher struct {
	dispatchFunc func(ctx context.Context, req relay.Request, r delivery.Replier) relay.Outcome
	stats        relay.Stats
	last         relay.Request
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req relay.Request, r delivery.Replier) relay.Outcome {
	m.last = req
	return m.dispatchFunc(ctx, req, r)
}

func (m *mockDispatcher) Stats() relay.Stats { return m.stats }

type mockCache struct {
	docs map[string]cache.Document
}

func (m *mockCache) Read(name string) (cache.Document, bool) {
	d, ok := m.docs[name]
	return d, ok
}

func (m *mockCache) List() ([]cache.Entry, error) {
	var out []cache.Entry
	for name, d := range m.docs {
		out = append(out, cache.Entry{Name: name, Size: int64(len(d.Data)), ModTime: d.ModTime})
	}
	return out, nil
}

type mockRuns struct {
	job   string
	limit int
	err   error
}

func (m *mockRuns) Recent(_ context.Context, job string, limit int) ([]records.Run, error) {
	m.job, m.limit = job, limit
	if m.err != nil {
		return nil, m.err
	}
	return []records.Run{{ID: "run-1", Job: "digest", Status: records.StatusSuccess}}, nil
}

type mockFreshness struct {
	report freshness.Report
	ok     bool
}

func (m *mockFreshness) Last() (freshness.Report, bool) { return m.report, m.ok }

func newTestServer(deps Deps) *Server {
	return New(Config{Listen: "localhost:0", Token: testToken, MaxBodyBytes: 1024}, deps, nil)
}

func do(t *testing.T, s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	d := &mockDispatcher{stats: relay.Stats{SpawnsInWindow: 2, SpawnCapacity: 5, ConstrainedInFlight: 1, ConstrainedCeiling: 1}}
	s := newTestServer(Deps{Dispatcher: d})

	rr := do(t, s, http.MethodGet, "/healthz", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Admission.SpawnsInWindow != 2 || resp.Admission.ConstrainedInFlight != 1 {
		t.Fatalf("unexpected admission stats: %+v", resp.Admission)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(Deps{Runs: &mockRuns{}})
	for _, path := range []string{"/v1/runs", "/v1/cache", "/v1/freshness", "/v1/cache/x"} {
		rr := do(t, s, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestHandleCommandCompleted(t *testing.T) {
	d := &mockDispatcher{dispatchFunc: func(ctx context.Context, req relay.Request, r delivery.Replier) relay.Outcome {
		require.NoError(t, r.Edit(ctx, "part one"))
		require.NoError(t, r.Send(ctx, "part two"))
		return relay.Outcome{RequestID: "req-1", Class: req.Class, State: relay.StateCompleted, Segments: 2}
	}}
	s := newTestServer(Deps{Dispatcher: d})

	rr := do(t, s, http.MethodPost, "/v1/commands", `{"principal":"u1","class":"instant-query","payload":"status"}`, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp CommandResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "completed", resp.State)
	assert.Equal(t, []string{"part one", "part two"}, resp.Segments)
	assert.Equal(t, "u1", d.last.Principal)
	assert.Equal(t, relay.ClassInstant, d.last.Class)
	assert.Equal(t, "status", d.last.Payload)
}

func TestHandleCommandStatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		out   relay.Outcome
		want  int
		retry string
	}{
		{"accepted", relay.Outcome{State: relay.StateAccepted}, http.StatusAccepted, ""},
		{"unauthorized principal", relay.Outcome{State: relay.StateRejected, Err: relay.ErrAuthorization}, http.StatusForbidden, ""},
		{"rate limited", relay.Outcome{State: relay.StateRejected, Err: relay.ErrRateLimited}, http.StatusTooManyRequests, "42"},
		{"concurrency", relay.Outcome{State: relay.StateRejected, Err: relay.ErrConcurrencyLimited}, http.StatusTooManyRequests, ""},
		{"validation", relay.Outcome{State: relay.StateRejected, Err: relay.ErrValidation}, http.StatusBadRequest, ""},
		{"unavailable", relay.Outcome{State: relay.StateRejected, Err: relay.ErrExecutorUnavailable}, http.StatusServiceUnavailable, ""},
		{"failed", relay.Outcome{State: relay.StateFailed, Err: errors.New("exit")}, http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{
				stats: relay.Stats{RetryAfterSeconds: 42},
				dispatchFunc: func(ctx context.Context, req relay.Request, r delivery.Replier) relay.Outcome {
					_ = r.Edit(ctx, "explanation")
					return tt.out
				},
			}
			s := newTestServer(Deps{Dispatcher: d})
			rr := do(t, s, http.MethodPost, "/v1/commands", `{"principal":"u1","class":"spawn-task","payload":"x"}`, true)
			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.retry, rr.Header().Get("Retry-After"))

			var resp CommandResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, []string{"explanation"}, resp.Segments, "one reply per request")
		})
	}
}

func TestHandleCommandBadBodies(t *testing.T) {
	d := &mockDispatcher{dispatchFunc: func(context.Context, relay.Request, delivery.Replier) relay.Outcome {
		t.Fatal("dispatcher must not be called")
		return relay.Outcome{}
	}}
	s := newTestServer(Deps{Dispatcher: d})

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/commands", `{not json`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/commands", `{"class":"spawn-task"}`, true).Code)

	big := `{"principal":"u1","class":"spawn-task","payload":"` + strings.Repeat("a", 2048) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(t, s, http.MethodPost, "/v1/commands", big, true).Code)
}

func TestHandleGetCache(t *testing.T) {
	mod := time.Now().Add(-90 * time.Second)
	s := newTestServer(Deps{Cache: &mockCache{docs: map[string]cache.Document{
		"status": {Name: "status", Data: json.RawMessage(`{"equity":1}`), ModTime: mod},
	}}})

	rr := do(t, s, http.MethodGet, "/v1/cache/status", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp CacheResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "status", resp.Name)
	assert.JSONEq(t, `{"equity":1}`, string(resp.Data))
	assert.GreaterOrEqual(t, resp.AgeSeconds, int64(89))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/cache/missing", "", true).Code)

	rr = do(t, s, http.MethodGet, "/v1/cache", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"status"`)
}

func TestHandleRuns(t *testing.T) {
	runs := &mockRuns{}
	s := newTestServer(Deps{Runs: runs})

	rr := do(t, s, http.MethodGet, "/v1/runs?job=digest&limit=5000", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "digest", runs.job)
	assert.Equal(t, maxRunsLimit, runs.limit)
	assert.Contains(t, rr.Body.String(), `"id":"run-1"`)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/runs?limit=-1", "", true).Code)

	runs.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/v1/runs", "", true).Code)
}

func TestHandleFreshness(t *testing.T) {
	f := &mockFreshness{}
	s := newTestServer(Deps{Freshness: f})

	rr := do(t, s, http.MethodGet, "/v1/freshness", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp FreshnessResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Nil(t, resp.CheckedAt)

	f.report = freshness.Report{CheckedAt: time.Now(), Issues: []string{"cache:status is 3h old"}}
	f.ok = true
	rr = do(t, s, http.MethodGet, "/v1/freshness", "", true)
	resp = FreshnessResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Equal(t, []string{"cache:status is 3h old"}, resp.Issues)
	assert.NotNil(t, resp.CheckedAt)
}

func TestMissingDepsAnswer404(t *testing.T) {
	s := newTestServer(Deps{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/freshness", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/v1/commands", `{}`, true).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", "", false).Code)
}

func TestOpenAPIListsClasses(t *testing.T) {
	s := newTestServer(Deps{})
	rr := do(t, s, http.MethodGet, "/openapi.json", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "constrained-spawn-task")
	assert.Contains(t, rr.Body.String(), "/v1/commands")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := newTestServer(Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
