package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type RolesConfig struct {
	A string `mapstructure:"a"`
	B string `mapstructure:"b"`
}

type HeartbeatConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	CheckPeriod     time.Duration `mapstructure:"check_period"`
	CleanupPeriod   time.Duration `mapstructure:"cleanup_period"`
	StatusLogPeriod time.Duration `mapstructure:"status_log_period"`
}

type Config struct {
	Mode            string          `mapstructure:"mode"`
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	ServerName      string          `mapstructure:"server_name"`
	Secret          string          `mapstructure:"secret"`
	ReadLimit       int64           `mapstructure:"read_limit"`
	SendBuffer      int             `mapstructure:"send_buffer"`
	WriteWait       time.Duration   `mapstructure:"write_wait"`
	PongWait        time.Duration   `mapstructure:"pong_wait"`
	PingPeriod      time.Duration   `mapstructure:"ping_period"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	Roles           RolesConfig     `mapstructure:"roles"`
	Heartbeat       HeartbeatConfig `mapstructure:"heartbeat"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"log-level": "log_level",
	"role-a":    "roles.a",
	"role-b":    "roles.b",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("server_name", "Two-Party Audio Relay v2.0")
	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("write_wait", "5s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("roles.a", "bernard")
	v.SetDefault("roles.b", "liliann")
	v.SetDefault("heartbeat.timeout", "45s")
	v.SetDefault("heartbeat.check_period", "10s")
	v.SetDefault("heartbeat.cleanup_period", "60s")
	v.SetDefault("heartbeat.status_log_period", "5m")
}

// Load reads config/config.<env>.yaml, then RELAY_* variables, then the
// flags that were set explicitly. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if flags != nil {
		if f := flags.Lookup("env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("role_a", cfg.Roles.A).Str("role_b", cfg.Roles.B).
		Dur("heartbeat_timeout", cfg.Heartbeat.Timeout).Msg("config ready")
	return &cfg, nil
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.Heartbeat.Timeout <= 0:
		return fmt.Errorf("%w: heartbeat.timeout must be positive", ErrInvalid)
	case c.PongWait > 0 && c.PingPeriod >= c.PongWait:
		return fmt.Errorf("%w: ping_period must be shorter than pong_wait", ErrInvalid)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalid)
	}
	if _, err := domain.NewRoles(c.Roles.A, c.Roles.B); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
