// Package doctor validates strategist configuration beyond what the loader
// enforces, and reports problems that would otherwise surface only at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/HelloWorldSungin/claude-strategist/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAuth(r)
	d.validateExecutor(r)
	d.validateRemote(r)
	d.validateState(r)
	d.validateJobs(r)
	d.validateAPIConfig(r)
	d.warnFreshnessRefs(r)
	d.warnNoNotifier(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateAuth(r *Result) {
	if strings.TrimSpace(d.cfg.Auth.PrincipalID) == "" {
		d.addError(r, "auth", "auth.principal_id",
			"principal_id is required; every chat request will be refused without it")
	}
}

func (d *Doctor) validateExecutor(r *Result) {
	local := d.cfg.Executor.Local
	if local.Command == "" {
		d.addError(r, "executor", "executor.local.command", "local worker command is required")
	} else if _, err := d.lookPath(local.Command); err != nil {
		d.addWarning(r, "executor", "executor.local.command",
			fmt.Sprintf("worker %q not found in PATH", local.Command))
	}
	if local.Dir != "" {
		if fi, err := os.Stat(local.Dir); err != nil || !fi.IsDir() {
			d.addWarning(r, "executor", "executor.local.dir",
				fmt.Sprintf("working directory %q does not exist", local.Dir))
		}
	}

	t := d.cfg.Executor.Timeouts
	for field, v := range map[string]time.Duration{"instant": t.Instant, "spawn": t.Spawn, "constrained": t.Constrained} {
		if v <= 0 {
			d.addError(r, "executor", "executor.timeouts."+field, "timeout must be positive")
		}
	}
	for class := range d.cfg.Executor.ClassArgs {
		switch class {
		case "instant-query", "spawn-task", "constrained-spawn-task":
		default:
			d.addWarning(r, "executor", "executor.class_args."+class,
				fmt.Sprintf("unknown request class %q", class))
		}
	}
}

func (d *Doctor) validateRemote(r *Result) {
	rc := d.cfg.Executor.Remote
	if !rc.Enabled() {
		return
	}
	required := map[string]string{
		"user":             rc.User,
		"key_file":         rc.KeyFile,
		"known_hosts_file": rc.KnownHostsFile,
		"command":          rc.Command,
	}
	for _, field := range sortedKeys(required) {
		if required[field] == "" {
			d.addError(r, "remote", "executor.remote."+field,
				fmt.Sprintf("%s is required when a remote host is configured", field))
		}
	}
	for field, path := range map[string]string{"key_file": rc.KeyFile, "known_hosts_file": rc.KnownHostsFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			d.addWarning(r, "remote", "executor.remote."+field,
				fmt.Sprintf("cannot read %s: %v", path, err))
		}
	}
	local, remote := d.cfg.Executor.Timeouts, rc.Timeouts
	if remote.Constrained > 0 && remote.Constrained < local.Constrained {
		d.addWarning(r, "remote", "executor.remote.timeouts.constrained",
			"remote timeout is shorter than the local one; network latency counts against it")
	}
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.CacheDir == "" {
		d.addError(r, "state", "state.cache_dir", "cache_dir is required")
	}
	if d.cfg.State.DBDriver == "postgres" && !strings.Contains(d.cfg.State.DBDSN, "://") && !strings.Contains(d.cfg.State.DBDSN, "=") {
		d.addWarning(r, "state", "state.db_dsn", "postgres DSN does not look like a URL or key=value string")
	}
}

func (d *Doctor) validateJobs(r *Result) {
	seen := make(map[string]bool)
	for i, j := range d.cfg.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		if seen[j.Name] {
			d.addError(r, "jobs", field+".name", fmt.Sprintf("duplicate job name %q", j.Name))
		}
		seen[j.Name] = true

		switch j.Target {
		case "local":
		case "remote":
			if !d.cfg.Executor.Remote.Enabled() {
				d.addError(r, "jobs", field+".target",
					fmt.Sprintf("job %q targets remote but no remote host is configured", j.Name))
			}
		default:
			d.addError(r, "jobs", field+".target", fmt.Sprintf("unknown job target %q", j.Target))
		}

		interval, err := config.ParseInterval(j.Every)
		if err != nil {
			d.addError(r, "schedule", field+".every",
				fmt.Sprintf("invalid schedule interval %q: %v", j.Every, err))
			continue
		}
		if interval < time.Minute {
			d.addWarning(r, "schedule", field+".every",
				fmt.Sprintf("schedule interval %q is very short (< 1m)", j.Every))
		}
		if j.Jitter >= interval {
			d.addWarning(r, "schedule", field+".jitter",
				fmt.Sprintf("jitter %s is not smaller than the interval", j.Jitter))
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Token == "" {
		d.addWarning(r, "api", "api.token", "API enabled but no token configured; /v1 routes will refuse every request")
	}
}

// warnFreshnessRefs flags thresholds that can never be met.
func (d *Doctor) warnFreshnessRefs(r *Result) {
	f := d.cfg.Freshness
	if !f.Enabled {
		return
	}
	jobs := make(map[string]bool)
	docs := make(map[string]bool)
	for _, j := range d.cfg.Jobs {
		jobs[j.Name] = true
		if j.CacheDoc != "" {
			docs[j.CacheDoc] = true
		}
	}
	for _, doc := range d.cfg.State.CacheDocs {
		docs[doc] = true
	}

	for _, name := range sortedKeys(f.JobMaxGap) {
		if !jobs[name] {
			d.addWarning(r, "freshness", "freshness.job_max_gap."+name,
				fmt.Sprintf("threshold references unknown job %q", name))
		}
	}
	for _, name := range sortedKeys(f.CacheMaxAge) {
		if !docs[name] {
			d.addWarning(r, "freshness", "freshness.cache_max_age."+name,
				fmt.Sprintf("no job or request class writes cache document %q", name))
		}
	}
	if f.LivenessURL == "" && !d.cfg.API.Enabled {
		d.addWarning(r, "freshness", "freshness.liveness_url", "no liveness endpoint to probe")
	}
}

func (d *Doctor) warnNoNotifier(r *Result) {
	n := d.cfg.Notify
	if n.WebhookURL != "" || n.RedisAddr != "" {
		return
	}
	if len(d.cfg.Jobs) > 0 || d.cfg.Freshness.Enabled {
		d.addWarning(r, "notify", "notify",
			"no notifier configured; job failures, watchdog alerts and constrained task results will only be logged")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
