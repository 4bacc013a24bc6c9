package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ConfigEnv names the environment variable pointing at the config file.
const ConfigEnv = "STRATEGIST_CONFIG"

// Discover finds the config file. Priority order: explicit path,
// $STRATEGIST_CONFIG, ~/.config/strategist/config.yaml,
// /etc/strategist/config.yaml, ./config.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := make([]string, 0, 4)
	if p := os.Getenv(ConfigEnv); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "strategist", "config.yaml"))
	}
	candidates = append(candidates, "/etc/strategist/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/strategist/config.yaml, /etc/strategist/config.yaml, ./config.yaml)", ConfigEnv)
}

// Load reads, interpolates, and validates the config at path.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated reads the config at path with defaults and environment
// overrides applied but without validation. config check uses it to report
// every problem instead of the first.
func LoadUnvalidated(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML over Defaults, then applies environment overrides and
// derived defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDerivedDefaults(cfg)
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"STRATEGIST_PRINCIPAL_ID": &cfg.Auth.PrincipalID,
		"STRATEGIST_API_TOKEN":    &cfg.API.Token,
		"STRATEGIST_REMOTE_HOST":  &cfg.Executor.Remote.Host,
		"STRATEGIST_CACHE_DIR":    &cfg.State.CacheDir,
		"STRATEGIST_DB_DSN":       &cfg.State.DBDSN,
		"STRATEGIST_LOG_LEVEL":    &cfg.Service.LogLevel,
	}
	for env, dst := range str {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("STRATEGIST_SPAWN_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STRATEGIST_SPAWN_CAPACITY: %w", err)
		}
		cfg.Admission.SpawnCapacity = n
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	return nil
}

func applyDerivedDefaults(cfg *Config) {
	local := cfg.Executor.Timeouts
	remote := &cfg.Executor.Remote.Timeouts
	if remote.Instant == 0 {
		remote.Instant = RemoteTimeoutFactor * local.Instant
	}
	if remote.Spawn == 0 {
		remote.Spawn = RemoteTimeoutFactor * local.Spawn
	}
	if remote.Constrained == 0 {
		remote.Constrained = RemoteTimeoutFactor * local.Constrained
	}

	def := DefaultJob()
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		if j.Target == "" {
			j.Target = def.Target
		}
		if j.MaxRetries == 0 {
			j.MaxRetries = def.MaxRetries
		}
		if j.BaseDelay == 0 {
			j.BaseDelay = def.BaseDelay
		}
	}
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs[0])
		}
		return err
	}

	if err := checkUnresolved(cfg); err != nil {
		return err
	}

	if cfg.Executor.Local.Command == "" && !cfg.Executor.Remote.Enabled() {
		return fmt.Errorf("executor.local.command is required when no remote host is configured")
	}
	if cfg.Executor.Remote.Enabled() {
		r := cfg.Executor.Remote
		switch {
		case r.User == "":
			return fmt.Errorf("executor.remote.user is required when executor.remote.host is set")
		case r.KeyFile == "":
			return fmt.Errorf("executor.remote.key_file is required when executor.remote.host is set")
		case r.KnownHostsFile == "":
			return fmt.Errorf("executor.remote.known_hosts_file is required when executor.remote.host is set (host key checking cannot be disabled)")
		case r.Command == "":
			return fmt.Errorf("executor.remote.command is required when executor.remote.host is set")
		}
	}
	for name, d := range map[string]time.Duration{
		"executor.timeouts.instant":     cfg.Executor.Timeouts.Instant,
		"executor.timeouts.spawn":       cfg.Executor.Timeouts.Spawn,
		"executor.timeouts.constrained": cfg.Executor.Timeouts.Constrained,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		if seen[j.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, j.Name)
		}
		seen[j.Name] = true
		if _, err := ParseInterval(j.Every); err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		if j.Target == "remote" && !cfg.Executor.Remote.Enabled() {
			return fmt.Errorf("job %q: target remote requires executor.remote.host", j.Name)
		}
	}
	return nil
}

func describe(fe validator.FieldError) error {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		if field == "auth.principal_id" {
			return fmt.Errorf("auth.principal_id is required (all requests are refused without it)")
		}
		return fmt.Errorf("%s is required", field)
	case "required_if":
		return fmt.Errorf("%s is required when %s", field, strings.ReplaceAll(fe.Param(), " ", " is "))
	case "oneof":
		return fmt.Errorf("%s must be one of: %s (got %q)", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gt", "gte":
		return fmt.Errorf("%s must be at least %s (got %v)", field, boundFor(fe), fe.Value())
	case "lte":
		return fmt.Errorf("%s must be at most %s (got %v)", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a URL (got %q)", field, fe.Value())
	case "hostname_port":
		return fmt.Errorf("%s must be host:port (got %q)", field, fe.Value())
	}
	return fmt.Errorf("%s failed %q validation", field, fe.Tag())
}

func boundFor(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return "more than " + fe.Param()
	}
	return fe.Param()
}

// checkUnresolved rejects ${VAR} placeholders left in secrets and addresses.
func checkUnresolved(cfg *Config) error {
	fields := map[string]string{
		"auth.principal_id":      cfg.Auth.PrincipalID,
		"api.token":              cfg.API.Token,
		"state.db_dsn":           cfg.State.DBDSN,
		"notify.webhook_url":     cfg.Notify.WebhookURL,
		"notify.webhook_secret":  cfg.Notify.WebhookSecret,
		"notify.redis_addr":      cfg.Notify.RedisAddr,
		"executor.remote.host":   cfg.Executor.Remote.Host,
		"executor.local.command": cfg.Executor.Local.Command,
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if m := envVarPattern.FindStringSubmatch(fields[name]); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", name, m[1])
		}
	}
	return nil
}

// ParseInterval converts schedule interval strings to durations.
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
	}
	return d, nil
}

// LocalTimeout returns the local bound for a request class name.
func (c *Config) LocalTimeout(class string) time.Duration {
	return c.Executor.Timeouts.forClass(class)
}

// RemoteTimeout returns the remote bound for a request class name.
func (c *Config) RemoteTimeout(class string) time.Duration {
	return c.Executor.Remote.Timeouts.forClass(class)
}

func (t TimeoutsConfig) forClass(class string) time.Duration {
	switch class {
	case "instant-query":
		return t.Instant
	case "constrained-spawn-task":
		return t.Constrained
	default:
		return t.Spawn
	}
}
