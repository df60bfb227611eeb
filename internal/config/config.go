// Package config loads the RuntimeConfig named in spec.md §6: schema
// source, plugin list, history/append-depth limits, task pool size, and
// room auto-offline policy. Loading follows the teacher's own
// internal/config.Load shape: TOML file with environment-variable
// overrides, precedence env > file > defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RoomAutoOfflineMode selects when an idle room is taken offline.
type RoomAutoOfflineMode string

const (
	RoomAutoOfflineOff           RoomAutoOfflineMode = "off"
	RoomAutoOfflineAfterDuration RoomAutoOfflineMode = "after_duration"
	RoomAutoOfflineOnEmpty       RoomAutoOfflineMode = "on_empty"
)

// PluginConfig is one entry in the ordered plugin list.
type PluginConfig struct {
	Name     string         `toml:"name"`
	Priority int            `toml:"priority"`
	Options  map[string]any `toml:"options"`
}

// SchemaSource selects where the schema document comes from: an inline
// string or a file path. Exactly one should be set.
type SchemaSource struct {
	Inline string `toml:"inline"`
	Path   string `toml:"path"`
}

// LogConfig holds the ambient slog setup.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// MetricsConfig holds the ambient prometheus setup.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// RoomConfig selects the CRDT room, if any, a Runtime's own transactions
// are mirrored into (spec.md §4.8's init_room/apply_local/ingest_remote).
type RoomConfig struct {
	Enabled   bool   `toml:"enabled"`
	ID        string `toml:"id"`
	ReplicaID string `toml:"replica_id"`
}

// RuntimeConfig holds all configuration for a ModuForge Runtime.
// Precedence: environment variables > config file > defaults.
type RuntimeConfig struct {
	Schema             SchemaSource        `toml:"schema"`
	Plugins            []PluginConfig      `toml:"plugins"`
	HistoryLimit       int                 `toml:"history_limit"`
	AppendDepthLimit   int                 `toml:"append_depth_limit"`
	TaskPoolSize       int                 `toml:"task_pool_size"`
	RoomAutoOffline    RoomAutoOfflineMode `toml:"room_auto_offline"`
	RoomOfflineAfterMS int64               `toml:"room_auto_offline_after_ms"` // only used when RoomAutoOffline == after_duration
	Log                LogConfig           `toml:"log"`
	Metrics            MetricsConfig       `toml:"metrics"`
	Room               RoomConfig          `toml:"room"`
}

// Load creates a RuntimeConfig by reading from a TOML config file and
// environment variables. Precedence: environment variables > config
// file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. MODUFORGE_CONFIG environment variable
//  3. ./moduforge.toml (current directory)
//  4. ~/.config/moduforge/moduforge.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables
// always override file values.
func Load(configPath string) (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		HistoryLimit:     100,
		AppendDepthLimit: 10,
		TaskPoolSize:     0, // 0 means runtime.GOMAXPROCS(0) at construction time
		RoomAutoOffline:  RoomAutoOfflineOff,
		Log:              LogConfig{Level: "info"},
		Metrics:          MetricsConfig{Enabled: true, Namespace: "moduforge"},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *RuntimeConfig) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit // caller wants this file; let DecodeFile report if missing
	}

	if p := os.Getenv("MODUFORGE_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("moduforge.toml"); err == nil {
		return "moduforge.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/moduforge/moduforge.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values. An env var only takes effect if it is non-empty.
func (c *RuntimeConfig) applyEnv() {
	envOverride("MODUFORGE_SCHEMA_PATH", &c.Schema.Path)
	envOverride("MODUFORGE_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("MODUFORGE_HISTORY_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			c.HistoryLimit = n
		}
	}
	if v := os.Getenv("MODUFORGE_APPEND_DEPTH_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			c.AppendDepthLimit = n
		}
	}
	if v := os.Getenv("MODUFORGE_TASK_POOL_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			c.TaskPoolSize = n
		}
	}
	if v := os.Getenv("MODUFORGE_ROOM_AUTO_OFFLINE"); v != "" {
		c.RoomAutoOffline = RoomAutoOfflineMode(v)
	}
	if v := os.Getenv("MODUFORGE_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = (v == "true" || v == "1")
	}
}

// Validate checks that required fields are present and consistent.
func (c *RuntimeConfig) Validate() error {
	if c.Schema.Inline != "" && c.Schema.Path != "" {
		return fmt.Errorf("schema: only one of inline or path may be set")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be >= 0")
	}
	if c.AppendDepthLimit < 1 {
		return fmt.Errorf("append_depth_limit must be >= 1")
	}
	switch c.RoomAutoOffline {
	case RoomAutoOfflineOff, RoomAutoOfflineAfterDuration, RoomAutoOfflineOnEmpty:
	default:
		return fmt.Errorf("room_auto_offline: unknown mode %q", c.RoomAutoOffline)
	}
	if c.RoomAutoOffline == RoomAutoOfflineAfterDuration && c.RoomOfflineAfterMS <= 0 {
		return fmt.Errorf("room_auto_offline_after_ms must be > 0 when room_auto_offline is %q", RoomAutoOfflineAfterDuration)
	}
	if c.Room.Enabled && (c.Room.ID == "" || c.Room.ReplicaID == "") {
		return fmt.Errorf("room: id and replica_id are required when room.enabled is true")
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is
// non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
