package api

import (
	"encoding/json"
	"time"

	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
)

// CommandRequest is the JSON body for POST /v1/commands.
type CommandRequest struct {
	Principal string `json:"principal" validate:"required"`
	Class     string `json:"class" validate:"required"`
	Payload   string `json:"payload,omitempty"`
}

// CommandResponse carries every reply segment for one request.
type CommandResponse struct {
	RequestID string   `json:"request_id"`
	Class     string   `json:"class"`
	State     string   `json:"state"`
	Segments  []string `json:"segments"`
	Reason    string   `json:"reason,omitempty"`
}

// CacheResponse is returned by GET /v1/cache/{name}.
type CacheResponse struct {
	Name       string          `json:"name"`
	ModTime    time.Time       `json:"mod_time"`
	AgeSeconds int64           `json:"age_seconds"`
	Data       json.RawMessage `json:"data"`
}

// FreshnessResponse is returned by GET /v1/freshness.
type FreshnessResponse struct {
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	OK        bool       `json:"ok"`
	Issues    []string   `json:"issues"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Admission     relay.Stats `json:"admission"`
}
