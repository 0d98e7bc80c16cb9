// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reclaimarr/config.yaml",
	"/etc/reclaimarr/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "RECLAIMARR_CONFIG"

// envPrefix scopes which environment variables the loader reads.
const envPrefix = "RECLAIMARR_"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in ascending precedence, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path, used by tests and the
// -config flag.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against the struct-level rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s: failed %q constraint (value %v)",
			strings.ToLower(fe.Namespace()), fe.Tag(), fe.Value())
	}
	return err
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings translates environment variable names (minus the prefix,
// lowercased) to config paths. Variables not in the table are ignored, so
// unrelated RECLAIMARR_* variables cannot corrupt the tree.
var envMappings = map[string]string{
	"downloader_url":                       "downloader.url",
	"downloader_api_key":                   "downloader.api_key",
	"downloader_timeout":                   "downloader.timeout",
	"downloader_requests_per_second":       "downloader.requests_per_second",
	"downloader_breaker_failure_threshold": "downloader.breaker_failure_threshold",
	"downloader_breaker_open_timeout":      "downloader.breaker_open_timeout",

	"monitor_interval":            "monitor.interval",
	"monitor_call_timeout":        "monitor.call_timeout",
	"monitor_degraded_threshold":  "monitor.degraded_threshold",
	"monitor_removal_grace_polls": "monitor.removal_grace_polls",
	"monitor_backoff_initial":     "monitor.backoff_initial",
	"monitor_backoff_max":         "monitor.backoff_max",

	"recovery_base_delay":   "recovery.base_delay",
	"recovery_multiplier":   "recovery.multiplier",
	"recovery_max_delay":    "recovery.max_delay",
	"recovery_call_timeout": "recovery.call_timeout",
	"recovery_queue_size":   "recovery.queue_size",

	"bus_backlog": "bus.backlog",

	"server_host":                  "server.host",
	"server_port":                  "server.port",
	"server_timeout":               "server.timeout",
	"server_cors_origins":          "server.cors_origins",
	"server_rate_limit_per_minute": "server.rate_limit_per_minute",

	"audit_enabled":   "audit.enabled",
	"audit_path":      "audit.path",
	"audit_retention": "audit.retention",

	"log_level":  "log.level",
	"log_format": "log.format",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envMappings[key]; ok {
		return path
	}
	return "" // unmapped variables are dropped
}

// sliceConfigPaths lists paths that accept comma-separated values from the
// environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
