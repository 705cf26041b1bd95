package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Booleans are only taken when the
// key is present so a file cannot reset them by omission.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.NATS.URL != "" {
		base.NATS.URL = override.NATS.URL
	}
	if override.NATS.Name != "" {
		base.NATS.Name = override.NATS.Name
	}
	if override.NATS.User != "" {
		base.NATS.User = override.NATS.User
	}
	if override.NATS.Password != "" {
		base.NATS.Password = override.NATS.Password
	}
	if override.NATS.Token != "" {
		base.NATS.Token = override.NATS.Token
	}
	if override.NATS.CredsFile != "" {
		base.NATS.CredsFile = override.NATS.CredsFile
	}
	if fieldSet(raw, "nats", "stream") {
		base.NATS.Stream = strings.TrimSpace(override.NATS.Stream)
	}
	if fieldSet(raw, "nats", "ensure_stream") {
		base.NATS.EnsureStream = override.NATS.EnsureStream
	}
	if override.NATS.Timeout != 0 {
		base.NATS.Timeout = override.NATS.Timeout
	}

	if override.Relay.ResponseTimeout != 0 {
		base.Relay.ResponseTimeout = override.Relay.ResponseTimeout
	}
	if fieldSet(raw, "relay", "rearm_on_fragment") {
		base.Relay.RearmOnFragment = override.Relay.RearmOnFragment
	}

	if override.Server.Listen != "" {
		base.Server.Listen = override.Server.Listen
	}
	if override.Server.JWTSecret != "" {
		base.Server.JWTSecret = override.Server.JWTSecret
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = append([]string(nil), override.Server.AllowedOrigins...)
	}
	if override.Server.ShutdownTimeout != 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	if override.Callout.Account != "" {
		base.Callout.Account = override.Callout.Account
	}
	if override.Callout.IssuerSeed != "" {
		base.Callout.IssuerSeed = override.Callout.IssuerSeed
	}
	if override.Callout.XKeySeed != "" {
		base.Callout.XKeySeed = override.Callout.XKeySeed
	}
	if override.Callout.UserTTL != 0 {
		base.Callout.UserTTL = override.Callout.UserTTL
	}
	if override.Callout.Queue != "" {
		base.Callout.Queue = override.Callout.Queue
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}
}

// fieldSet reports whether the nested key path is present in raw.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
