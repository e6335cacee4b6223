package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir runs the test inside an empty directory so no config file is found.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)
	t.Setenv("CONFIG_ENV", "")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "bernard", cfg.Roles.A)
	assert.Equal(t, "liliann", cfg.Roles.B)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.CheckPeriod)
	assert.Equal(t, 60*time.Second, cfg.Heartbeat.CleanupPeriod)
	assert.Equal(t, 25*time.Second, cfg.PingPeriod)
	assert.NotEmpty(t, cfg.Secret)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
port: 9000
roles:
  a: streamer
  b: listener
heartbeat:
  timeout: 30s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("RELAY_HEARTBEAT_CHECK_PERIOD", "2s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("role-b", "", "")
	require.NoError(t, flags.Parse([]string{"--role-b=consumer"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port, "unset flag must not override the file")
	assert.Equal(t, "streamer", cfg.Roles.A)
	assert.Equal(t, "consumer", cfg.Roles.B)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.CheckPeriod)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Port:       8080,
			SendBuffer: 16,
			PingPeriod: 25 * time.Second,
			PongWait:   60 * time.Second,
			Roles:      RolesConfig{A: "bernard", B: "liliann"},
			Heartbeat:  HeartbeatConfig{Timeout: 45 * time.Second},
		}
	}

	ok := base()
	require.NoError(t, ok.Validate())

	bad := []func(*Config){
		func(c *Config) { c.Port = 0 },
		func(c *Config) { c.Heartbeat.Timeout = 0 },
		func(c *Config) { c.PingPeriod = c.PongWait },
		func(c *Config) { c.SendBuffer = 0 },
		func(c *Config) { c.Roles.B = c.Roles.A },
		func(c *Config) { c.Roles.A = "" },
	}
	for i, mutate := range bad {
		c := base()
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalid, "case %d", i)
	}
}
