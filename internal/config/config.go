// Package config holds the engine configuration: a JSON5 file overlaid with
// environment variables. Secrets (DSNs, API keys, bot tokens) are never read
// from or written to the config file.
package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration of the orchestration engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Model     ModelConfig     `json:"model"`
	Window    WindowConfig    `json:"window,omitempty"`
	Pools     PoolsConfig     `json:"pools,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	Sweep     SweepConfig     `json:"sweep,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig selects the persistence backend.
// PostgresDSN is NEVER read from the config file (secret), only from env
// CONVOFLOW_POSTGRES_DSN. A non-empty DSN with mode "managed" selects
// Postgres; otherwise the engine runs standalone on SQLite.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                     // from env CONVOFLOW_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone database file
}

// IsManagedMode reports whether the engine runs on Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// ModelConfig configures the decision/generation model endpoint.
// Tiers maps tier numbers ("1".."3") to model names; tier 1 is the default.
type ModelConfig struct {
	APIBase string            `json:"api_base,omitempty"`
	APIKey  string            `json:"-"` // from env CONVOFLOW_MODEL_API_KEY only
	Model   string            `json:"model,omitempty"`
	Tiers   map[string]string `json:"tiers,omitempty"`
}

// WindowConfig overrides the debounce window timings, in seconds.
// Zero values keep the built-in defaults.
type WindowConfig struct {
	SessionWindowTTLSec int `json:"session_window_ttl_seconds,omitempty"`
	ColdWindowTTLSec    int `json:"cold_window_ttl_seconds,omitempty"`
	SessionSleepSec     int `json:"session_sleep_seconds,omitempty"`
	ColdSleepSec        int `json:"cold_sleep_seconds,omitempty"`
}

// PoolConfig sizes one worker pool.
type PoolConfig struct {
	Workers   int     `json:"workers,omitempty"`
	PerSecond float64 `json:"per_second,omitempty"`
}

// PoolsConfig sizes the ingestion and workflow pools.
type PoolsConfig struct {
	Ingest PoolConfig `json:"ingest,omitempty"`
	Flow   PoolConfig `json:"flow,omitempty"`
}

// AlertsConfig holds the operator-owned alert bot tokens. Both are secrets
// and come from env only.
type AlertsConfig struct {
	TelegramToken string `json:"-"` // from env CONVOFLOW_ALERT_TELEGRAM_TOKEN only
	DiscordToken  string `json:"-"` // from env CONVOFLOW_ALERT_DISCORD_TOKEN only
}

// SweepConfig schedules the finished-job and expired-key cleanup.
type SweepConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron expression, default every minute
}

// TelemetryConfig configures OpenTelemetry span export to an OTLP backend.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`     // skip TLS, for local dev
	ServiceName string `json:"service_name,omitempty"` // default "convoflow"
}

const secretMask = "***"

// MaskedCopy returns a deep copy with secret fields masked, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Model.APIKey)
	maskNonEmpty(&cp.Alerts.TelegramToken)
	maskNonEmpty(&cp.Alerts.DiscordToken)
	return cp
}

// StripSecrets zeros every secret field. Called before saving so secrets
// never persist in the config file.
func (c *Config) StripSecrets() {
	c.Database.PostgresDSN = ""
	c.Model.APIKey = ""
	c.Alerts.TelegramToken = ""
	c.Alerts.DiscordToken = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
