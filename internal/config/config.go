package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Audit       AuditConfig       `yaml:"audit"`
	Shell       ShellConfig       `yaml:"shell"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Development DevelopmentConfig `yaml:"development"`
}

type ServerConfig struct {
	HTTP       ServerHTTPConfig       `yaml:"http"`
	UnixSocket ServerUnixSocketConfig `yaml:"unix_socket"`
	TLS        ServerTLSConfig        `yaml:"tls"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	// GatewayPath is where the action-tagged request/response endpoint is mounted.
	GatewayPath string `yaml:"gateway_path"`

	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type ServerUnixSocketConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"` // e.g. "0660"
}

type ServerTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"`
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	KeysFile   string `yaml:"keys_file"`
	HeaderName string `yaml:"header_name"`
	// Watch reloads the keys file when it changes on disk.
	Watch bool `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// AuditConfig configures the event trail. The SQLite store is always on; it
// backs session history and stored command output.
type AuditConfig struct {
	// Optional JSONL mirror of every event.
	Output   string         `yaml:"output"`
	Rotation RotationConfig `yaml:"rotation"`

	Storage AuditStorageConfig `yaml:"storage"`

	// Optional: ship events to an HTTP webhook.
	Webhook AuditWebhookConfig `yaml:"webhook"`

	// Optional: export events as OTLP log records.
	OTEL AuditOTELConfig `yaml:"otel"`
}

type AuditStorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	// Retention prunes events and outputs older than this. Empty keeps all.
	Retention string `yaml:"retention"`
}

type AuditWebhookConfig struct {
	URL           string            `yaml:"url"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

type AuditOTELConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Protocol string            `yaml:"protocol"` // grpc, http
	Headers  map[string]string `yaml:"headers"`
	Timeout  string            `yaml:"timeout"`

	TLS struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"tls"`

	Batch struct {
		MaxSize int    `yaml:"max_size"`
		Timeout string `yaml:"timeout"`
	} `yaml:"batch"`

	Filter struct {
		IncludeTypes      []string `yaml:"include_types"`
		ExcludeTypes      []string `yaml:"exclude_types"`
		IncludeCategories []string `yaml:"include_categories"`
		ExcludeCategories []string `yaml:"exclude_categories"`
	} `yaml:"filter"`

	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

type RotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

// ShellConfig selects the native shell each session runs.
type ShellConfig struct {
	Path string            `yaml:"path"`
	Args []string          `yaml:"args"`
	Dir  string            `yaml:"dir"`
	Env  map[string]string `yaml:"env"`

	// VersionLabel is returned to callers on create and status.
	VersionLabel string `yaml:"version_label"`

	// CompletionMarker makes the shell print a per-command sentinel so the
	// executor can tell when output is complete. Nil means platform default.
	CompletionMarker *bool `yaml:"completion_marker"`
}

type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions"`

	// MaxIdle evicts sessions created longer ago than this.
	MaxIdle string `yaml:"max_idle"`
	// IdleTimeout evicts sessions with no command activity for this long. Empty disables it.
	IdleTimeout     string `yaml:"idle_timeout"`
	CleanupInterval string `yaml:"cleanup_interval"`

	CaptureWindow  string `yaml:"capture_window"`
	HardCeiling    string `yaml:"hard_ceiling"`
	GracePeriod    string `yaml:"grace_period"`
	MaxOutputBytes string `yaml:"max_output_bytes"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type DevelopmentConfig struct {
	DisableAuth bool `yaml:"disable_auth"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv returns the defaults with environment overrides applied, for runs
// without a config file.
func FromEnv() (*Config, error) {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.HTTP.GatewayPath == "" {
		cfg.Server.HTTP.GatewayPath = "/api/terminal"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "30s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		// Must outlast sessions.hard_ceiling.
		cfg.Server.HTTP.WriteTimeout = "2m"
	}
	if cfg.Server.HTTP.MaxRequestSize == "" {
		cfg.Server.HTTP.MaxRequestSize = "1MB"
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	applyShellDefaults(&cfg.Shell)

	if cfg.Sessions.MaxSessions <= 0 {
		cfg.Sessions.MaxSessions = 100
	}
	if cfg.Sessions.MaxIdle == "" {
		cfg.Sessions.MaxIdle = "1h"
	}
	if cfg.Sessions.CleanupInterval == "" {
		cfg.Sessions.CleanupInterval = "1m"
	}
	if cfg.Sessions.CaptureWindow == "" {
		cfg.Sessions.CaptureWindow = "2s"
	}
	if cfg.Sessions.HardCeiling == "" {
		cfg.Sessions.HardCeiling = "30s"
	}
	if cfg.Sessions.GracePeriod == "" {
		cfg.Sessions.GracePeriod = "5s"
	}
	if cfg.Sessions.MaxOutputBytes == "" {
		cfg.Sessions.MaxOutputBytes = "1MB"
	}

	if cfg.Audit.Storage.SQLitePath == "" {
		cfg.Audit.Storage.SQLitePath = "/var/lib/shellgate/events.db"
	}
	if cfg.Audit.Rotation.MaxSizeMB == 0 {
		cfg.Audit.Rotation.MaxSizeMB = 100
	}
	if cfg.Audit.Rotation.MaxBackups == 0 {
		cfg.Audit.Rotation.MaxBackups = 3
	}
	if cfg.Audit.Webhook.BatchSize == 0 {
		cfg.Audit.Webhook.BatchSize = 100
	}
	if cfg.Audit.Webhook.FlushInterval == "" {
		cfg.Audit.Webhook.FlushInterval = "10s"
	}
	if cfg.Audit.Webhook.Timeout == "" {
		cfg.Audit.Webhook.Timeout = "5s"
	}
	if cfg.Audit.OTEL.Protocol == "" {
		cfg.Audit.OTEL.Protocol = "grpc"
	}
	if cfg.Audit.OTEL.Timeout == "" {
		cfg.Audit.OTEL.Timeout = "10s"
	}
	if cfg.Audit.OTEL.Batch.Timeout == "" {
		cfg.Audit.OTEL.Batch.Timeout = "5s"
	}
	if cfg.Audit.OTEL.Batch.MaxSize == 0 {
		cfg.Audit.OTEL.Batch.MaxSize = 512
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHELLGATE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("SHELLGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SHELLGATE_DATA_DIR"); v != "" {
		cfg.Audit.Storage.SQLitePath = filepath.Join(v, "events.db")
	}
	if v := os.Getenv("SHELLGATE_SHELL"); v != "" {
		cfg.Shell.Path = v
		cfg.Shell.Args = nil
		cfg.Shell.VersionLabel = ""
		applyShellDefaults(&cfg.Shell)
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Auth.Type) {
	case "none", "api_key":
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	switch cfg.Audit.OTEL.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("invalid audit.otel.protocol %q", cfg.Audit.OTEL.Protocol)
	}
	if cfg.Audit.OTEL.Enabled && cfg.Audit.OTEL.Endpoint == "" {
		return fmt.Errorf("audit.otel.enabled requires audit.otel.endpoint")
	}
	if !strings.HasPrefix(cfg.Server.HTTP.GatewayPath, "/") {
		return fmt.Errorf("server.http.gateway_path must start with /")
	}
	if cfg.Shell.Path == "" {
		return fmt.Errorf("shell.path is empty and no default shell was found")
	}

	durations := map[string]string{
		"sessions.max_idle":         cfg.Sessions.MaxIdle,
		"sessions.cleanup_interval": cfg.Sessions.CleanupInterval,
		"sessions.capture_window":   cfg.Sessions.CaptureWindow,
		"sessions.hard_ceiling":     cfg.Sessions.HardCeiling,
		"sessions.grace_period":     cfg.Sessions.GracePeriod,
	}
	if cfg.Sessions.IdleTimeout != "" {
		durations["sessions.idle_timeout"] = cfg.Sessions.IdleTimeout
	}
	if cfg.Audit.Storage.Retention != "" {
		durations["audit.storage.retention"] = cfg.Audit.Storage.Retention
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	window, _ := time.ParseDuration(cfg.Sessions.CaptureWindow)
	ceiling, _ := time.ParseDuration(cfg.Sessions.HardCeiling)
	if window > ceiling {
		return fmt.Errorf("sessions.capture_window (%s) must not exceed sessions.hard_ceiling (%s)", window, ceiling)
	}
	if _, err := ParseByteSize(cfg.Sessions.MaxOutputBytes); err != nil {
		return fmt.Errorf("parse sessions.max_output_bytes: %w", err)
	}
	return nil
}

// SessionTimings holds the parsed session durations. Values were validated at
// load time so parse errors are not expected here.
type SessionTimings struct {
	MaxIdle         time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	CaptureWindow   time.Duration
	HardCeiling     time.Duration
	GracePeriod     time.Duration
	MaxOutputBytes  int64
}

func (c SessionsConfig) Timings() (SessionTimings, error) {
	var t SessionTimings
	var err error
	parse := func(name, v string, dst *time.Duration) {
		if err != nil || v == "" {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("parse sessions.%s: %w", name, perr)
			return
		}
		*dst = d
	}
	parse("max_idle", c.MaxIdle, &t.MaxIdle)
	parse("idle_timeout", c.IdleTimeout, &t.IdleTimeout)
	parse("cleanup_interval", c.CleanupInterval, &t.CleanupInterval)
	parse("capture_window", c.CaptureWindow, &t.CaptureWindow)
	parse("hard_ceiling", c.HardCeiling, &t.HardCeiling)
	parse("grace_period", c.GracePeriod, &t.GracePeriod)
	if err != nil {
		return SessionTimings{}, err
	}
	if c.MaxOutputBytes != "" {
		n, perr := ParseByteSize(c.MaxOutputBytes)
		if perr != nil {
			return SessionTimings{}, fmt.Errorf("parse sessions.max_output_bytes: %w", perr)
		}
		t.MaxOutputBytes = n
	}
	return t, nil
}

// MarkerEnabled reports whether the completion marker is on for this shell.
func (s ShellConfig) MarkerEnabled() bool {
	if s.CompletionMarker != nil {
		return *s.CompletionMarker
	}
	return defaultCompletionMarker
}
