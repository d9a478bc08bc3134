// Package config loads invisibrow configuration from
// <config-home>/invisibrow.json and resolves the storage directory layout.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"invisibrow/internal/logging"
)

// Env variable names recognized by the process.
const (
	EnvAPIKey     = "INVISIBROW_API_KEY"
	EnvBaseURL    = "INVISIBROW_BASE_URL"
	EnvBrowserBin = "INVISIBROW_BROWSER_BIN"
	EnvDataDir    = "INVISIBROW_DATA_DIR"
	EnvUITest     = "INVISIBROW_UI_TEST"
)

// Models names the LLM model used by each agent role.
type Models struct {
	PlannerAgent  string `json:"plannerAgent"`
	ExecutorAgent string `json:"executorAgent"`
	WatchdogAgent string `json:"watchdogAgent"`
}

// Config holds all invisibrow configuration.
type Config struct {
	Models          Models           `json:"models"`
	Concurrency     int              `json:"concurrency"`
	HeadlessDefault bool             `json:"headlessDefault"`
	Logging         logging.Settings `json:"logging"`
}

// Default returns the documented defaults for every unset key.
func Default() Config {
	return Config{
		Models: Models{
			PlannerAgent:  "gemini-2.5-pro",
			ExecutorAgent: "gemini-2.5-flash",
			WatchdogAgent: "gemini-2.5-flash",
		},
		Concurrency:     2,
		HeadlessDefault: true,
		Logging: logging.Settings{
			Level: "info",
		},
	}
}

// Path returns the config file location: <config-home>/invisibrow.json.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "invisibrow.json"), nil
}

// Load reads the config file, applying defaults for unset keys.
// A missing file yields the defaults without error.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from an explicit path.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyFloors() {
	d := Default()
	if c.Models.PlannerAgent == "" {
		c.Models.PlannerAgent = d.Models.PlannerAgent
	}
	if c.Models.ExecutorAgent == "" {
		c.Models.ExecutorAgent = d.Models.ExecutorAgent
	}
	if c.Models.WatchdogAgent == "" {
		c.Models.WatchdogAgent = d.Models.WatchdogAgent
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// DataDir resolves <data-home>/invisibrow, honoring INVISIBROW_DATA_DIR and
// XDG_DATA_HOME before falling back to ~/.local/share.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "invisibrow"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "invisibrow"), nil
}

// StorageDir returns <data-home>/invisibrow/storage, creating it if needed.
func StorageDir() (string, error) {
	base, err := DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "storage")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	return dir, nil
}

// APIKey returns the LLM API key from the environment.
func APIKey() string { return os.Getenv(EnvAPIKey) }

// BaseURL returns the optional LLM API base URL override.
func BaseURL() string { return os.Getenv(EnvBaseURL) }

// BrowserBin returns the optional browser executable path.
func BrowserBin() string { return os.Getenv(EnvBrowserBin) }

// UITestMode reports whether deterministic mock execution is enabled.
func UITestMode() bool { return os.Getenv(EnvUITest) == "1" }
