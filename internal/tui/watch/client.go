package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HelloWorldSungin/claude-strategist/internal/api"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
)

// --- Message types ---

type healthMsg api.HealthzResponse

type freshnessMsg api.FreshnessResponse

type runsMsg []records.Run

type tickMsg time.Time

// errMsg carries a failed poll and the fetch to retry.
type errMsg struct {
	err   error
	retry func() tea.Msg
	// down is set when the relay itself is unreachable.
	down bool
}

func (e errMsg) Error() string { return e.err.Error() }

// --- Commands ---

var httpClient = &http.Client{Timeout: 3 * time.Second}

func getJSON(apiURL, path, token string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s: %s", path, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// fetchHealth queries the unauthenticated /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL, "/healthz", "", &h); err != nil {
		return errMsg{err: err, retry: func() tea.Msg { return fetchHealth(apiURL) }, down: true}
	}
	return healthMsg(h)
}

// fetchFreshness queries the latest watchdog report.
func fetchFreshness(apiURL, token string) tea.Msg {
	var f api.FreshnessResponse
	if err := getJSON(apiURL, "/v1/freshness", token, &f); err != nil {
		return errMsg{err: err, retry: func() tea.Msg { return fetchFreshness(apiURL, token) }}
	}
	return freshnessMsg(f)
}

// fetchRuns lists the most recent job runs.
func fetchRuns(apiURL, token string, limit int) tea.Msg {
	var runs []records.Run
	if err := getJSON(apiURL, "/v1/runs?limit="+strconv.Itoa(limit), token, &runs); err != nil {
		return errMsg{err: err, retry: func() tea.Msg { return fetchRuns(apiURL, token, limit) }}
	}
	return runsMsg(runs)
}

func pollAfter(d time.Duration, fn func() tea.Msg) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return fn() })
}
