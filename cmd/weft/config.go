package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// PluginSpec describes an external stdio plugin to launch at boot.
type PluginSpec struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// Config holds all weft engine configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath    string       `json:"db_path"`
	LogLevel  string       `json:"log_level"`
	Scheduler bool         `json:"scheduler"`
	Plugins   []PluginSpec `json:"plugins,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(weftDir(), "weft.db"),
		LogLevel:  "info",
		Scheduler: true,
	}
}

func weftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}

func settingsPath() string {
	return filepath.Join(weftDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WEFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WEFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEFT_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

func parseLogLevel(s string) string {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(s)
	default:
		return "info"
	}
}
