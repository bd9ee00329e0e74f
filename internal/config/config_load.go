package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18620,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.convoflow/convoflow.db",
		},
		Model: ModelConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Tiers: map[string]string{
				"1": "gpt-4o-mini",
				"2": "gpt-4o",
				"3": "gpt-4o",
			},
		},
		Pools: PoolsConfig{
			Ingest: PoolConfig{Workers: 10, PerSecond: 100},
			Flow:   PoolConfig{Workers: 5, PerSecond: 50},
		},
		Sweep: SweepConfig{
			Schedule: "* * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets: env is the only source.
	envStr("CONVOFLOW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CONVOFLOW_MODEL_API_KEY", &c.Model.APIKey)
	envStr("CONVOFLOW_ALERT_TELEGRAM_TOKEN", &c.Alerts.TelegramToken)
	envStr("CONVOFLOW_ALERT_DISCORD_TOKEN", &c.Alerts.DiscordToken)

	envStr("CONVOFLOW_MODE", &c.Database.Mode)
	envStr("CONVOFLOW_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("CONVOFLOW_MODEL_API_BASE", &c.Model.APIBase)
	envStr("CONVOFLOW_MODEL", &c.Model.Model)

	envStr("CONVOFLOW_HOST", &c.Server.Host)
	if v := os.Getenv("CONVOFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("CONVOFLOW_SWEEP_SCHEDULE", &c.Sweep.Schedule)

	// Telemetry
	envStr("CONVOFLOW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CONVOFLOW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CONVOFLOW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CONVOFLOW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CONVOFLOW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides, restoring
// runtime secrets after a config reload from disk.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secrets must be stripped first.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ModelTiers converts the string-keyed tier map to the numeric form the
// generation service expects. Malformed keys are skipped.
func (c *Config) ModelTiers() map[int]string {
	tiers := make(map[int]string, len(c.Model.Tiers))
	for k, v := range c.Model.Tiers {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 || v == "" {
			continue
		}
		tiers[n] = v
	}
	return tiers
}

// SQLiteFile returns the expanded standalone database path.
func (c *Config) SQLiteFile() string {
	return ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
