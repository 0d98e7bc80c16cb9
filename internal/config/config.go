// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package config loads layered configuration: built-in defaults, an optional
// YAML file, then RECLAIMARR_-prefixed environment variables, each layer
// overriding the previous.
package config

import (
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Downloader DownloaderConfig `koanf:"downloader"`
	Monitor    MonitorConfig    `koanf:"monitor"`
	Recovery   RecoveryConfig   `koanf:"recovery"`
	Bus        BusConfig        `koanf:"bus"`
	Server     ServerConfig     `koanf:"server"`
	Audit      AuditConfig      `koanf:"audit"`
	Log        LogConfig        `koanf:"log"`
}

// DownloaderConfig points at the download client the gateway talks to.
type DownloaderConfig struct {
	URL               string        `koanf:"url" validate:"required,url"`
	APIKey            string        `koanf:"api_key" validate:"required"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`

	// Circuit breaker over the gateway client.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold" validate:"gt=0"`
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout" validate:"gt=0"`
}

// MonitorConfig tunes the polling loop.
type MonitorConfig struct {
	Interval          time.Duration `koanf:"interval" validate:"gte=1s"`
	CallTimeout       time.Duration `koanf:"call_timeout" validate:"gt=0"`
	DegradedThreshold int           `koanf:"degraded_threshold" validate:"gt=0"`
	RemovalGracePolls int           `koanf:"removal_grace_polls" validate:"gt=0"`
	BackoffInitial    time.Duration `koanf:"backoff_initial" validate:"gt=0"`
	BackoffMax        time.Duration `koanf:"backoff_max" validate:"gt=0"`
}

// RecoveryConfig tunes the retry policy.
type RecoveryConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" validate:"gt=0"`
	Multiplier  float64       `koanf:"multiplier" validate:"gt=1"`
	MaxDelay    time.Duration `koanf:"max_delay" validate:"gt=0"`
	CallTimeout time.Duration `koanf:"call_timeout" validate:"gt=0"`
	QueueSize   int           `koanf:"queue_size" validate:"gt=0"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	Backlog int `koanf:"backlog" validate:"gt=0"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	Host               string        `koanf:"host" validate:"required"`
	Port               int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout            time.Duration `koanf:"timeout" validate:"gt=0"`
	CORSOrigins        []string      `koanf:"cors_origins"`
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute" validate:"gt=0"`
}

// AuditConfig tunes the durable event log.
type AuditConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Path      string        `koanf:"path" validate:"required_if=Enabled true"`
	Retention time.Duration `koanf:"retention"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Downloader: DownloaderConfig{
			URL:                     "http://127.0.0.1:8080",
			APIKey:                  "",
			Timeout:                 10 * time.Second,
			RequestsPerSecond:       5,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      60 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:          15 * time.Second,
			CallTimeout:       10 * time.Second,
			DegradedThreshold: 3,
			RemovalGracePolls: 2,
			BackoffInitial:    time.Second,
			BackoffMax:        2 * time.Minute,
		},
		Recovery: RecoveryConfig{
			BaseDelay:   30 * time.Second,
			Multiplier:  2,
			MaxDelay:    10 * time.Minute,
			CallTimeout: 15 * time.Second,
			QueueSize:   256,
		},
		Bus: BusConfig{
			Backlog: 256,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8484,
			Timeout:            30 * time.Second,
			CORSOrigins:        nil,
			RateLimitPerMinute: 300,
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      "/data/reclaimarr/audit",
			Retention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
