package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	dkerrors "github.com/vinayprograms/drainkit/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvShutdownTimeout, EnvLogLevel, EnvHTTPAddr, EnvNATSURL, EnvOTLPEndpoint} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drainkit.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DrainTimeout() != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want 30s", cfg.DrainTimeout())
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval())
	}
	if cfg.TaskTimeout() != 0 {
		t.Errorf("TaskTimeout = %v, want 0", cfg.TaskTimeout())
	}
	if cfg.StatusTTL() != time.Minute {
		t.Errorf("StatusTTL = %v, want 1m", cfg.StatusTTL())
	}
	if cfg.RetryAfter() != 10*time.Second {
		t.Errorf("RetryAfter = %v, want 10s", cfg.RetryAfter())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		noFile  bool
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Shutdown.DrainTimeoutSeconds != 30 {
					t.Errorf("DrainTimeoutSeconds = %d, want 30", cfg.Shutdown.DrainTimeoutSeconds)
				}
			},
		},
		{
			name: "partial override preserves other defaults",
			config: `
[shutdown]
drain_timeout_seconds = 12

[http]
addr = ":9090"
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.DrainTimeout() != 12*time.Second {
					t.Errorf("DrainTimeout = %v, want 12s", cfg.DrainTimeout())
				}
				if cfg.HTTP.Addr != ":9090" {
					t.Errorf("Addr = %q, want :9090", cfg.HTTP.Addr)
				}
				if cfg.PollInterval() != 500*time.Millisecond {
					t.Errorf("PollInterval = %v, want default", cfg.PollInterval())
				}
				if len(cfg.HTTP.ExemptPaths) != 3 {
					t.Errorf("ExemptPaths = %v, want defaults", cfg.HTTP.ExemptPaths)
				}
			},
		},
		{
			name: "all sections",
			config: `
[service]
name = "orders"
instance_id = "orders-1"

[bus]
url = "nats://nats:4222"
subject_prefix = "ops"

[heartbeat]
enabled = true
interval_seconds = 2

[webhook]
url = "http://lb/deregister"
states = ["draining"]
headers = { Authorization = "Bearer x" }

[telemetry]
endpoint = "otel:4318"
protocol = "http"

[trigger]
file = "/var/run/drainkit/drain"
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Service.InstanceID != "orders-1" {
					t.Errorf("InstanceID = %q", cfg.Service.InstanceID)
				}
				if cfg.Bus.URL != "nats://nats:4222" || cfg.Bus.SubjectPrefix != "ops" {
					t.Errorf("Bus = %+v", cfg.Bus)
				}
				if !cfg.Heartbeat.Enabled || cfg.Heartbeat.IntervalSeconds != 2 {
					t.Errorf("Heartbeat = %+v", cfg.Heartbeat)
				}
				if cfg.Webhook.Headers["Authorization"] != "Bearer x" {
					t.Errorf("Webhook headers = %v", cfg.Webhook.Headers)
				}
				if cfg.Telemetry.Protocol != "http" {
					t.Errorf("Protocol = %q", cfg.Telemetry.Protocol)
				}
				if cfg.Trigger.File != "/var/run/drainkit/drain" {
					t.Errorf("Trigger.File = %q", cfg.Trigger.File)
				}
			},
		},
		{
			name:    "malformed TOML returns error",
			config:  "this is not valid toml [[[",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "absent.toml")
			if !tt.noFile {
				path = writeConfig(t, tt.config)
			}
			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !dkerrors.Is(err, dkerrors.ErrCodeInvalidConfig) {
					t.Errorf("expected INVALID_CONFIG, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_AssignsInstanceID(t *testing.T) {
	clearEnv(t)
	a, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if a.Service.InstanceID == "" {
		t.Fatal("expected generated instance id")
	}
	if a.Service.InstanceID == b.Service.InstanceID {
		t.Error("generated instance ids should differ")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvShutdownTimeout, "45")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvHTTPAddr, ":7000")
	t.Setenv(EnvNATSURL, "nats://env:4222")
	t.Setenv(EnvOTLPEndpoint, "collector:4317")

	path := writeConfig(t, `
[shutdown]
drain_timeout_seconds = 5

[log]
level = "warn"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DrainTimeout() != 45*time.Second {
		t.Errorf("env should win over file: DrainTimeout = %v", cfg.DrainTimeout())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Bus.URL != "nats://env:4222" {
		t.Errorf("Bus.URL = %q", cfg.Bus.URL)
	}
	if cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("Telemetry.Endpoint = %q", cfg.Telemetry.Endpoint)
	}
}

func TestLoad_InvalidShutdownTimeoutEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvShutdownTimeout, "thirty")
	_, err := Load("")
	if !dkerrors.Is(err, dkerrors.ErrCodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestValidateAcceptsLargestDrainTimeout(t *testing.T) {
	cfg := Default()
	cfg.Shutdown.DrainTimeoutSeconds = int(maxSeconds)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.DrainTimeout() <= 0 {
		t.Errorf("DrainTimeout overflowed: %v", cfg.DrainTimeout())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero drain timeout", func(c *Config) { c.Shutdown.DrainTimeoutSeconds = 0 }},
		{"zero poll interval", func(c *Config) { c.Shutdown.PollIntervalMS = 0 }},
		{"negative task timeout", func(c *Config) { c.Shutdown.TaskTimeoutSeconds = -1 }},
		{"empty service name", func(c *Config) { c.Service.Name = "" }},
		{"empty http addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"negative retry after", func(c *Config) { c.HTTP.RetryAfterSeconds = -1 }},
		{"bad exempt pattern", func(c *Config) { c.HTTP.ExemptPaths = []string{"/healthz/["} }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"heartbeat without interval", func(c *Config) {
			c.Heartbeat.Enabled = true
			c.Heartbeat.IntervalSeconds = 0
		}},
		{"webhook running state", func(c *Config) { c.Webhook.States = []string{"running"} }},
		{"bad telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
		{"empty status bucket", func(c *Config) { c.Status.Bucket = "" }},
		{"negative status ttl", func(c *Config) { c.Status.TTLSeconds = -5 }},
		{"drain timeout overflows duration", func(c *Config) { c.Shutdown.DrainTimeoutSeconds = int(maxSeconds + 1) }},
		{"task timeout overflows duration", func(c *Config) { c.Shutdown.TaskTimeoutSeconds = math.MaxInt }},
		{"bus drain timeout overflows duration", func(c *Config) { c.Bus.DrainTimeoutSeconds = int(maxSeconds + 1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !dkerrors.Is(err, dkerrors.ErrCodeInvalidConfig) {
				t.Errorf("expected INVALID_CONFIG, got %v", err)
			}
		})
	}
}
