// Package config loads chatrelay configuration from defaults, YAML files and
// the environment.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/relay"
	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

// Config is the complete chatrelay configuration.
type Config struct {
	NATS    bus.Config    `yaml:"nats"`
	Relay   relay.Config  `yaml:"relay"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Callout CalloutConfig `yaml:"callout"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the browser-facing HTTP and WebSocket gateway.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	JWTSecret       string        `yaml:"jwt_secret"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// CalloutConfig configures the auth callout service.
type CalloutConfig struct {
	Account    string        `yaml:"account"`
	IssuerSeed string        `yaml:"issuer_seed"`
	XKeySeed   string        `yaml:"xkey_seed"`
	UserTTL    time.Duration `yaml:"user_ttl"`
	Queue      string        `yaml:"queue"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

const (
	defaultListen  = "127.0.0.1:8008"
	defaultAccount = "APP"
	defaultQueue   = "chatrelay-callout"
)

func defaultDSN() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".chatrelay", "chatrelay.db")
	}
	return filepath.Join(home, ".chatrelay", "chatrelay.db")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		NATS:  bus.DefaultConfig(),
		Relay: relay.DefaultConfig(),
		Server: ServerConfig{
			Listen:          defaultListen,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    defaultDSN(),
		},
		Callout: CalloutConfig{
			Account: defaultAccount,
			UserTTL: time.Hour,
			Queue:   defaultQueue,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{ServiceName: "chatrelay"},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load user config (~/.chatrelay/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".chatrelay", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading user config")
		}
	}

	// Load project config (./.chatrelay/config.yaml)
	projectConfigPath := filepath.Join(".", ".chatrelay", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading project config")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	// NATS_URL is what the agent side uses too.
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CHATRELAY_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CHATRELAY_NATS_USER"); v != "" {
		cfg.NATS.User = v
	}
	if v := os.Getenv("CHATRELAY_NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := os.Getenv("CHATRELAY_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("CHATRELAY_NATS_CREDS"); v != "" {
		cfg.NATS.CredsFile = v
	}
	if v := os.Getenv("CHATRELAY_NATS_STREAM"); v != "" {
		cfg.NATS.Stream = v
	}
	if val, ok := envBool("CHATRELAY_NATS_ENSURE_STREAM"); ok {
		cfg.NATS.EnsureStream = val
	}

	if v, ok := envDuration("CHATRELAY_RESPONSE_TIMEOUT"); ok {
		cfg.Relay.ResponseTimeout = v
	}
	if val, ok := envBool("CHATRELAY_REARM_ON_FRAGMENT"); ok {
		cfg.Relay.RearmOnFragment = val
	}

	if v := os.Getenv("CHATRELAY_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("CHATRELAY_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("CHATRELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}

	if v := os.Getenv("CHATRELAY_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("CHATRELAY_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	if v := os.Getenv("CHATRELAY_CALLOUT_ACCOUNT"); v != "" {
		cfg.Callout.Account = v
	}
	if v := os.Getenv("CHATRELAY_CALLOUT_ISSUER_SEED"); v != "" {
		cfg.Callout.IssuerSeed = v
	}
	if v := os.Getenv("CHATRELAY_CALLOUT_XKEY_SEED"); v != "" {
		cfg.Callout.XKeySeed = v
	}
	if v, ok := envDuration("CHATRELAY_CALLOUT_USER_TTL"); ok {
		cfg.Callout.UserTTL = v
	}

	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool("CHATRELAY_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envDuration(key string) (time.Duration, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, format, args...)
	}

	if strings.TrimSpace(c.NATS.URL) == "" {
		return invalid("nats.url is required")
	}
	if c.NATS.Stream != "" && !subjects.ValidToken(c.NATS.Stream) {
		return invalid("invalid nats.stream %q", c.NATS.Stream)
	}
	if c.NATS.EnsureStream && c.NATS.Stream == "" {
		return invalid("nats.ensure_stream requires nats.stream")
	}

	if c.Relay.ResponseTimeout <= 0 {
		return invalid("relay.response_timeout must be positive")
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return invalid("invalid server.listen %q: %v", c.Server.Listen, err)
	}
	if c.Server.ShutdownTimeout < 0 {
		return invalid("server.shutdown_timeout must not be negative")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "postgres":
	default:
		return invalid("invalid storage.driver %q (valid: sqlite, postgres)", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return invalid("storage.dsn is required")
	}

	if strings.TrimSpace(c.Callout.Account) == "" {
		return invalid("callout.account is required")
	}
	if c.Callout.UserTTL < 0 {
		return invalid("callout.user_ttl must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid logging.level %q", c.Logging.Level)
	}
	return nil
}

// ValidateServe checks the settings only the gateway needs.
func (c *Config) ValidateServe() error {
	if strings.TrimSpace(c.Server.JWTSecret) == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "server.jwt_secret is required (or CHATRELAY_JWT_SECRET)")
	}
	return nil
}

// ValidateCallout checks the settings only the auth callout needs.
func (c *Config) ValidateCallout() error {
	if strings.TrimSpace(c.Callout.IssuerSeed) == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "callout.issuer_seed is required (or CHATRELAY_CALLOUT_ISSUER_SEED)")
	}
	if c.NATS.Stream == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "nats.stream is required to scope callout grants")
	}
	return nil
}
