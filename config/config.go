// Package config loads drainkitd configuration from a TOML file, with
// environment variable overrides for the settings orchestrators usually
// inject.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	dkerrors "github.com/vinayprograms/drainkit/errors"
)

// Environment variables that override file settings.
const (
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvLogLevel        = "DRAINKIT_LOG_LEVEL"
	EnvHTTPAddr        = "DRAINKIT_HTTP_ADDR"
	EnvNATSURL         = "NATS_URL"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the top-level configuration.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Shutdown  ShutdownConfig  `toml:"shutdown"`
	HTTP      HTTPConfig      `toml:"http"`
	Log       LogConfig       `toml:"log"`
	Bus       BusConfig       `toml:"bus"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Trigger   TriggerConfig   `toml:"trigger"`
	Status    StatusConfig    `toml:"status"`
}

// ServiceConfig identifies the process.
type ServiceConfig struct {
	// Name is the logical service name.
	Name string `toml:"name"`
	// InstanceID identifies this process. A random UUID is assigned when empty.
	InstanceID string `toml:"instance_id"`
}

// ShutdownConfig holds coordinator settings.
type ShutdownConfig struct {
	// DrainTimeoutSeconds bounds the wait for in-flight requests.
	DrainTimeoutSeconds int `toml:"drain_timeout_seconds"`
	// PollIntervalMS is the fallback re-check interval while draining.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// TaskTimeoutSeconds bounds each cleanup task. 0 means unbounded.
	TaskTimeoutSeconds int `toml:"task_timeout_seconds"`
}

// HTTPConfig holds request boundary settings.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr"`
	// RetryAfterSeconds is advertised on rejected requests.
	RetryAfterSeconds int `toml:"retry_after_seconds"`
	// ExemptPaths are glob patterns that bypass admission (probes, metrics).
	ExemptPaths []string `toml:"exempt_paths"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level"`
	// File enables rotating file output when set. Empty logs to stdout.
	File string `toml:"file"`
	// MaxSizeMB is the file size that triggers rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// MaxBackups is how many rotated files are kept.
	MaxBackups int `toml:"max_backups"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// URL of the NATS server. Empty uses an in-process bus.
	URL string `toml:"url"`
	// SubjectPrefix for lifecycle announcements.
	SubjectPrefix string `toml:"subject_prefix"`
	// DrainTimeoutSeconds bounds the flush of pending messages on close.
	DrainTimeoutSeconds int `toml:"drain_timeout_seconds"`
}

// HeartbeatConfig holds heartbeat settings.
type HeartbeatConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
}

// WebhookConfig holds deregistration webhook settings.
type WebhookConfig struct {
	// URL receives a POST per transition. Empty disables the webhook.
	URL string `toml:"url"`
	// States limits announcements to these target states.
	States []string `toml:"states"`
	// Headers are sent with every request.
	Headers map[string]string `toml:"headers"`
	// TimeoutSeconds bounds each attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// RetryMax is the number of retries after the first attempt.
	RetryMax int `toml:"retry_max"`
}

// TelemetryConfig holds OTLP tracing settings.
type TelemetryConfig struct {
	// Endpoint of the OTLP collector. Empty disables tracing.
	Endpoint string `toml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `toml:"protocol"`
	// Insecure disables TLS.
	Insecure bool `toml:"insecure"`
}

// TriggerConfig holds non-signal shutdown triggers.
type TriggerConfig struct {
	// File is a sentinel path; creating it starts shutdown. Empty disables it.
	File string `toml:"file"`
}

// StatusConfig holds the shared instance status store settings. The store
// uses a JetStream KV bucket when bus.url is set, process memory otherwise.
type StatusConfig struct {
	// Bucket is the KV bucket name.
	Bucket string `toml:"bucket"`
	// TTLSeconds expires records that are not rewritten. 0 keeps them.
	TTLSeconds int `toml:"ttl_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "drainkit",
		},
		Shutdown: ShutdownConfig{
			DrainTimeoutSeconds: 30,
			PollIntervalMS:      500,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RetryAfterSeconds: 10,
			ExemptPaths:       []string{"/healthz/**", "/livez", "/metrics"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Bus: BusConfig{
			SubjectPrefix:       "lifecycle",
			DrainTimeoutSeconds: 5,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 5,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 5,
			RetryMax:       2,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Status: StatusConfig{
			Bucket:     "drainkit-status",
			TTLSeconds: 60,
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, dkerrors.InvalidConfig(fmt.Sprintf("parse %s: %v", path, err),
					dkerrors.WithCause(err))
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Service.InstanceID == "" {
		cfg.Service.InstanceID = uuid.New().String()
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvShutdownTimeout); v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return dkerrors.InvalidConfig(fmt.Sprintf("%s must be whole seconds, got %q", EnvShutdownTimeout, v),
				dkerrors.WithCause(err))
		}
		c.Shutdown.DrainTimeoutSeconds = secs
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validStates = map[string]bool{
	"draining": true, "cleaning_up": true, "stopped": true,
}

// Largest values that still fit in a time.Duration.
const (
	maxSeconds = math.MaxInt64 / int64(time.Second)
	maxMillis  = math.MaxInt64 / int64(time.Millisecond)
)

// Validate reports the first invalid setting as an INVALID_CONFIG error.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return dkerrors.InvalidConfig("service.name must not be empty")
	}
	if c.Shutdown.DrainTimeoutSeconds <= 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("shutdown.drain_timeout_seconds must be > 0, got %d", c.Shutdown.DrainTimeoutSeconds))
	}
	if c.Shutdown.PollIntervalMS <= 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("shutdown.poll_interval_ms must be > 0, got %d", c.Shutdown.PollIntervalMS))
	}
	if c.Shutdown.TaskTimeoutSeconds < 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("shutdown.task_timeout_seconds must be >= 0, got %d", c.Shutdown.TaskTimeoutSeconds))
	}
	if c.HTTP.Addr == "" {
		return dkerrors.InvalidConfig("http.addr must not be empty")
	}
	if c.HTTP.RetryAfterSeconds < 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("http.retry_after_seconds must be >= 0, got %d", c.HTTP.RetryAfterSeconds))
	}
	for _, p := range c.HTTP.ExemptPaths {
		if !doublestar.ValidatePattern(p) {
			return dkerrors.InvalidConfig(fmt.Sprintf("invalid http.exempt_paths pattern %q", p))
		}
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return dkerrors.InvalidConfig(fmt.Sprintf("invalid log.level %q: must be debug, info, warn, or error", c.Log.Level))
	}
	if c.Heartbeat.Enabled && c.Heartbeat.IntervalSeconds <= 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("heartbeat.interval_seconds must be > 0, got %d", c.Heartbeat.IntervalSeconds))
	}
	for _, s := range c.Webhook.States {
		if !validStates[s] {
			return dkerrors.InvalidConfig(fmt.Sprintf("invalid webhook.states entry %q: must be draining, cleaning_up, or stopped", s))
		}
	}
	if c.Status.Bucket == "" {
		return dkerrors.InvalidConfig("status.bucket must not be empty")
	}
	if c.Status.TTLSeconds < 0 {
		return dkerrors.InvalidConfig(fmt.Sprintf("status.ttl_seconds must be >= 0, got %d", c.Status.TTLSeconds))
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return dkerrors.InvalidConfig(fmt.Sprintf("invalid telemetry.protocol %q: must be grpc or http", c.Telemetry.Protocol))
	}
	return c.validateRanges()
}

func (c *Config) validateRanges() error {
	seconds := []struct {
		name  string
		value int
	}{
		{"shutdown.drain_timeout_seconds", c.Shutdown.DrainTimeoutSeconds},
		{"shutdown.task_timeout_seconds", c.Shutdown.TaskTimeoutSeconds},
		{"http.retry_after_seconds", c.HTTP.RetryAfterSeconds},
		{"bus.drain_timeout_seconds", c.Bus.DrainTimeoutSeconds},
		{"heartbeat.interval_seconds", c.Heartbeat.IntervalSeconds},
		{"webhook.timeout_seconds", c.Webhook.TimeoutSeconds},
		{"status.ttl_seconds", c.Status.TTLSeconds},
	}
	for _, s := range seconds {
		if int64(s.value) > maxSeconds {
			return dkerrors.InvalidConfig(fmt.Sprintf("%s must be <= %d, got %d", s.name, maxSeconds, s.value))
		}
	}
	if int64(c.Shutdown.PollIntervalMS) > maxMillis {
		return dkerrors.InvalidConfig(fmt.Sprintf("shutdown.poll_interval_ms must be <= %d, got %d", maxMillis, c.Shutdown.PollIntervalMS))
	}
	return nil
}

// DrainTimeout returns the drain timeout as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Shutdown.DrainTimeoutSeconds) * time.Second
}

// PollInterval returns the drain poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Shutdown.PollIntervalMS) * time.Millisecond
}

// TaskTimeout returns the per-task cleanup bound. Zero means unbounded.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Shutdown.TaskTimeoutSeconds) * time.Second
}

// StatusTTL returns the status record TTL.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.Status.TTLSeconds) * time.Second
}

// RetryAfter returns the Retry-After advertised on rejection.
func (c *Config) RetryAfter() time.Duration {
	return time.Duration(c.HTTP.RetryAfterSeconds) * time.Second
}
