// Package config holds the desktop shell settings and the backend's view of
// its environment contract.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Desktop environment overrides.
const (
	EnvExternalBackend = "OPENPRISM_DESKTOP_EXTERNAL_BACKEND"
	EnvBackendURL      = "OPENPRISM_DESKTOP_BACKEND_URL"
	EnvBackendEntry    = "OPENPRISM_DESKTOP_BACKEND_ENTRY"
	EnvDevURL          = "OPENPRISM_DESKTOP_DEV_URL"
	EnvConfigPath      = "OPENPRISM_DESKTOP_CONFIG"
	EnvPort            = "PORT"
	EnvDataDir         = "OPENPRISM_DATA_DIR"
)

// DefaultExternalURL is where an externally managed backend is expected.
const DefaultExternalURL = "http://127.0.0.1:8787"

// BackendBinary is the backend executable name looked up next to the desktop
// binary and on PATH.
const BackendBinary = "openprism-backend"

// Config captures every knob of the desktop shell. Zero values are filled by
// Normalize.
type Config struct {
	DataDir            string        `yaml:"data_dir"`
	RepoRoot           string        `yaml:"repo_root"`
	LogPath            string        `yaml:"log_path"`
	LogLevel           string        `yaml:"log_level"`
	BackendEntry       string        `yaml:"backend_entry"`
	BackendInterpreter string        `yaml:"backend_interpreter"`
	BackendArgs        []string      `yaml:"backend_args"`
	Port               int           `yaml:"port"`
	External           bool          `yaml:"external"`
	ExternalURL        string        `yaml:"external_url"`
	DevURL             string        `yaml:"dev_url"`
	AllowOrigins       []string      `yaml:"allow_origins"`
	HealthTimeout      time.Duration `yaml:"health_timeout"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	StartupAttempts    int           `yaml:"startup_attempts"`
	InheritListener    bool          `yaml:"inherit_listener"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	TUI                bool          `yaml:"tui"`
}

// DefaultConfig infers defaults from the user's config directory and the
// working directory. Lookup errors fall back to relative paths so callers can
// override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = filepath.Join(cwd, ".openprism")
	}
	dataDir := filepath.Join(base, "OpenPrism", "data")
	return Config{
		DataDir:         dataDir,
		RepoRoot:        cwd,
		LogPath:         filepath.Join(base, "OpenPrism", "logs", "desktop.log"),
		LogLevel:        "info",
		ExternalURL:     DefaultExternalURL,
		HealthTimeout:   30 * time.Second,
		GracePeriod:     2 * time.Second,
		StartupAttempts: 3,
		InheritListener: true,
		ProbeTimeout:    4 * time.Second,
	}
}

// Normalize makes every path absolute, fills missing defaults and validates
// the port.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	if c.RepoRoot == "" {
		c.RepoRoot = def.RepoRoot
	}
	absRoot, err := filepath.Abs(c.RepoRoot)
	if err != nil {
		return fmt.Errorf("resolve repo root: %w", err)
	}
	c.RepoRoot = absRoot
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.DataDir, err = filepath.Abs(c.DataDir); err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if !filepath.IsAbs(c.LogPath) {
		c.LogPath = filepath.Join(c.DataDir, c.LogPath)
	}
	if c.BackendEntry == "" {
		c.BackendEntry = defaultBackendEntry()
	}
	if c.BackendEntry != "" && strings.ContainsRune(c.BackendEntry, filepath.Separator) && !filepath.IsAbs(c.BackendEntry) {
		c.BackendEntry = filepath.Join(c.RepoRoot, c.BackendEntry)
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ExternalURL == "" {
		c.ExternalURL = def.ExternalURL
	}
	c.ExternalURL = strings.TrimRight(c.ExternalURL, "/")
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid backend port: %d", c.Port)
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = def.HealthTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.StartupAttempts <= 0 {
		c.StartupAttempts = 1
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	return nil
}

// AllowList returns the development origins the window may visit besides the
// backend.
func (c Config) AllowList() []string {
	list := append([]string(nil), c.AllowOrigins...)
	if c.DevURL != "" {
		list = append(list, c.DevURL)
	}
	return list
}

func defaultBackendEntry() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), BackendBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return BackendBinary
}

// LoadFile merges the YAML file at path into c. A missing file is not an
// error.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes c as YAML.
func (c Config) Save(path string) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv applies the desktop environment overrides.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if getenv(EnvExternalBackend) == "1" {
		c.External = true
	}
	if v := getenv(EnvBackendURL); v != "" {
		c.ExternalURL = v
	}
	if v := getenv(EnvBackendEntry); v != "" {
		c.BackendEntry = v
	}
	if v := getenv(EnvDevURL); v != "" {
		c.DevURL = v
	}
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid backend port: %q", v)
		}
		c.Port = port
	}
	return nil
}

// Load builds the effective configuration: defaults, then the YAML file, then
// the environment, then Normalize. path may be empty, in which case
// OPENPRISM_DESKTOP_CONFIG is consulted.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := DefaultConfig()
	if path == "" {
		path = getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
