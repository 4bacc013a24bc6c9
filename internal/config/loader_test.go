package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
auth:
  principal_id: "12345"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "12345", cfg.Auth.PrincipalID)
	assert.Equal(t, 60*time.Second, cfg.Admission.SpawnWindow)
	assert.Equal(t, 5, cfg.Admission.SpawnCapacity)
	assert.Equal(t, 1, cfg.Admission.ConstrainedCeiling)
	assert.Equal(t, 4000, cfg.Delivery.MaxMessageLength)
	assert.Equal(t, 500, cfg.Delivery.MaxErrorLength)
	assert.Equal(t, "sqlite", cfg.State.DBDriver)
	assert.NotEmpty(t, cfg.SourcePath)
}

func TestRemoteTimeoutsDefaultToTwiceLocal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
executor:
  timeouts:
    instant: 10s
    spawn: 5m
    constrained: 15m
  remote:
    timeouts:
      spawn: 7m
`))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.RemoteTimeout("instant-query"))
	assert.Equal(t, 7*time.Minute, cfg.RemoteTimeout("spawn-task"))
	assert.Equal(t, 30*time.Minute, cfg.RemoteTimeout("constrained-spawn-task"))
	assert.Equal(t, 15*time.Minute, cfg.LocalTimeout("constrained-spawn-task"))
	assert.Equal(t, 5*time.Minute, cfg.LocalTimeout("unknown"))
}

func TestMissingPrincipalIsFatal(t *testing.T) {
	_, err := Load(writeConfig(t, "service:\n  name: strategist\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.principal_id is required")
}

func TestEnvInterpolationAndOverrides(t *testing.T) {
	t.Setenv("TEST_PRINCIPAL", "from-file-env")
	t.Setenv("STRATEGIST_API_TOKEN", "tok-override")
	t.Setenv("STRATEGIST_LOG_LEVEL", "DEBUG")

	cfg, err := Parse([]byte(`
auth:
  principal_id: ${TEST_PRINCIPAL}
api:
  token: from-file
`))
	require.NoError(t, err)
	assert.Equal(t, "from-file-env", cfg.Auth.PrincipalID)
	assert.Equal(t, "tok-override", cfg.API.Token)
	assert.Equal(t, "debug", cfg.Service.LogLevel)

	t.Setenv("STRATEGIST_PRINCIPAL_ID", "env-wins")
	cfg, err = Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-wins", cfg.Auth.PrincipalID)
}

func TestUnresolvedSecretIsRejected(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
notify:
  webhook_secret: ${STRATEGIST_TEST_UNSET_SECRET}
`))
	require.NoError(t, err)
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "${STRATEGIST_TEST_UNSET_SECRET} is not set")
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "service:\n  log_level: loud\n", "service.log_level must be one of: debug, info, warn, error"},
		{"db driver", "state:\n  db_driver: mysql\n", "state.db_driver must be one of: sqlite, postgres"},
		{"capacity", "admission:\n  spawn_capacity: -1\n", "admission.spawn_capacity must be at least 1"},
		{"webhook url", "notify:\n  webhook_url: not a url\n", "notify.webhook_url must be a URL"},
		{"remote needs known hosts", "executor:\n  remote:\n    host: gpu-box\n    user: bot\n    key_file: /k\n", "known_hosts_file is required"},
		{"duplicate job", "jobs:\n  - {name: a, every: 1h}\n  - {name: a, every: 2h}\n", `duplicate job name "a"`},
		{"bad interval", "jobs:\n  - {name: a, every: sometimes}\n", `invalid schedule interval "sometimes"`},
		{"remote job without host", "jobs:\n  - {name: a, every: 1h, target: remote}\n", "target remote requires executor.remote.host"},
		{"unknown target", "jobs:\n  - {name: a, every: 1h, target: moon}\n", "jobs[0].target must be one of: local, remote"},
		{"api listen", "api:\n  enabled: true\n  listen: \"\"\n", "api.listen is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalYAML + tt.yaml))
			require.NoError(t, err)
			err = Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJobDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
jobs:
  - name: nightly
    every: daily
    cache_doc: market
`))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	require.Len(t, cfg.Jobs, 1)
	j := cfg.Jobs[0]
	assert.Equal(t, "local", j.Target)
	assert.Equal(t, 3, j.MaxRetries)
	assert.Equal(t, 30*time.Second, j.BaseDelay)
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"hourly": time.Hour,
		"daily":  24 * time.Hour,
		"weekly": 7 * 24 * time.Hour,
		"90m":    90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseInterval("-5m")
	assert.Error(t, err)
	_, err = ParseInterval("")
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	p, err := Discover("/explicit/path.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path.yaml", p)

	file := writeConfig(t, minimalYAML)
	t.Setenv(ConfigEnv, file)
	p, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, file, p)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "config file not found"))
}
