package config

import "time"

// Config represents the complete strategist configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	Admission AdmissionConfig `yaml:"admission"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api"`
	Notify    NotifyConfig    `yaml:"notify"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Jobs      []JobConfig     `yaml:"jobs" validate:"dive"`

	// SourcePath is the file the config was loaded from, if any.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
	LockPath  string `yaml:"lock_path" validate:"required"`
}

// AuthConfig holds the single authorized chat principal. An empty
// PrincipalID denies every request.
type AuthConfig struct {
	PrincipalID string `yaml:"principal_id" validate:"required"`
}

// AdmissionConfig sets the spawn budget and the constrained-task ceiling.
type AdmissionConfig struct {
	SpawnWindow        time.Duration `yaml:"spawn_window" validate:"gt=0"`
	SpawnCapacity      int           `yaml:"spawn_capacity" validate:"gte=1"`
	ConstrainedCeiling int           `yaml:"constrained_ceiling" validate:"gte=1"`
	MaxPayloadBytes    int           `yaml:"max_payload_bytes" validate:"gte=1"`
}

// ExecutorConfig describes how the worker is launched.
type ExecutorConfig struct {
	Local     LocalExecConfig     `yaml:"local"`
	Remote    RemoteExecConfig    `yaml:"remote"`
	Timeouts  TimeoutsConfig      `yaml:"timeouts"`
	KillGrace time.Duration       `yaml:"kill_grace" validate:"gt=0"`
	ClassArgs map[string][]string `yaml:"class_args,omitempty"`
}

// LocalExecConfig is the worker on this host.
type LocalExecConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// RemoteExecConfig is the worker reached over SSH.
type RemoteExecConfig struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port" validate:"gte=0,lte=65535"`
	User           string            `yaml:"user"`
	KeyFile        string            `yaml:"key_file"`
	KnownHostsFile string            `yaml:"known_hosts_file"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args,omitempty"`
	Dir            string            `yaml:"dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	StageDir       string            `yaml:"stage_dir,omitempty"`
	DialTimeout    time.Duration     `yaml:"dial_timeout"`
	// Timeouts default to RemoteTimeoutFactor times the local values.
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// Enabled reports whether a remote host is configured.
func (r RemoteExecConfig) Enabled() bool { return r.Host != "" }

// TimeoutsConfig is the per-class execution bound.
type TimeoutsConfig struct {
	Instant     time.Duration `yaml:"instant"`
	Spawn       time.Duration `yaml:"spawn"`
	Constrained time.Duration `yaml:"constrained"`
}

// DeliveryConfig bounds what goes back to the chat.
type DeliveryConfig struct {
	MaxMessageLength int `yaml:"max_message_length" validate:"gte=1"`
	MaxErrorLength   int `yaml:"max_error_length" validate:"gte=1"`
}

// StateConfig locates the cache and the run-record database.
type StateConfig struct {
	CacheDir  string            `yaml:"cache_dir" validate:"required"`
	DBDriver  string            `yaml:"db_driver" validate:"oneof=sqlite postgres"`
	DBDSN     string            `yaml:"db_dsn" validate:"required"`
	CacheDocs map[string]string `yaml:"cache_docs,omitempty"`
}

// APIConfig defines the HTTP chat boundary.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
	Token   string `yaml:"token"`
}

// NotifyConfig selects outbound notification sinks. Any combination may be set.
type NotifyConfig struct {
	WebhookURL    string        `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	RedisAddr     string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisKey      string        `yaml:"redis_key"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
}

// FreshnessConfig drives the watchdog.
type FreshnessConfig struct {
	Enabled      bool                     `yaml:"enabled"`
	Interval     time.Duration            `yaml:"interval" validate:"gt=0"`
	LivenessURL  string                   `yaml:"liveness_url" validate:"omitempty,url"`
	ProbeTimeout time.Duration            `yaml:"probe_timeout" validate:"gt=0"`
	CacheMaxAge  map[string]time.Duration `yaml:"cache_max_age,omitempty"`
	JobMaxGap    map[string]time.Duration `yaml:"job_max_gap,omitempty"`
}

// JobConfig is one unattended background job.
type JobConfig struct {
	Name            string        `yaml:"name" validate:"required"`
	Every           string        `yaml:"every" validate:"required"`
	Jitter          time.Duration `yaml:"jitter" validate:"gte=0"`
	Target          string        `yaml:"target" validate:"oneof=local remote"`
	Args            []string      `yaml:"args,omitempty"`
	Payload         string        `yaml:"payload,omitempty"`
	CacheDoc        string        `yaml:"cache_doc,omitempty"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=1"`
	BaseDelay       time.Duration `yaml:"base_delay" validate:"gte=0"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
	NotifyOnSuccess bool          `yaml:"notify_on_success"`
}

// Default values.
const (
	DefaultMaxPayloadBytes = 16 << 10
	RemoteTimeoutFactor    = 2
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "strategist",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/strategist.lock",
		},
		Admission: AdmissionConfig{
			SpawnWindow:        60 * time.Second,
			SpawnCapacity:      5,
			ConstrainedCeiling: 1,
			MaxPayloadBytes:    DefaultMaxPayloadBytes,
		},
		Executor: ExecutorConfig{
			Local: LocalExecConfig{
				Command: "claude",
				Args:    []string{"--print"},
			},
			Remote: RemoteExecConfig{
				Port:        22,
				Command:     "claude",
				Args:        []string{"--print"},
				DialTimeout: 15 * time.Second,
			},
			Timeouts: TimeoutsConfig{
				Instant:     30 * time.Second,
				Spawn:       10 * time.Minute,
				Constrained: 20 * time.Minute,
			},
			KillGrace: 5 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxMessageLength: 4000,
			MaxErrorLength:   500,
		},
		State: StateConfig{
			CacheDir: "./data/state",
			DBDriver: "sqlite",
			DBDSN:    "./data/strategist.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Notify: NotifyConfig{
			RedisKey: "strategist:notifications",
			Timeout:  10 * time.Second,
		},
		Freshness: FreshnessConfig{
			Interval:     15 * time.Minute,
			ProbeTimeout: 10 * time.Second,
		},
	}
}

// DefaultJob returns the values a job starts from before its YAML is applied.
func DefaultJob() JobConfig {
	return JobConfig{
		Target:     "local",
		MaxRetries: 3,
		BaseDelay:  30 * time.Second,
	}
}
