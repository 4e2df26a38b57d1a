// Package config provides configuration management for chemlab.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "chemlab.yaml"

// Config holds all configuration for chemlab.
type Config struct {
	// Experiment definitions
	Experiments ExperimentsConfig `yaml:"experiments"`

	// Engine timing
	Simulation SimulationConfig `yaml:"simulation"`

	// Local progress store
	Store StoreConfig `yaml:"store"`

	// Remote progress delivery
	Progress ProgressConfig `yaml:"progress"`

	// Persistence endpoint (lab serve)
	Server ServerConfig `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`
}

// ExperimentsConfig configures where definitions come from.
type ExperimentsConfig struct {
	// Dir holds extra *.yaml definitions merged over the built-ins.
	Dir            string `yaml:"dir"`
	Watch          bool   `yaml:"watch"`
	ReloadDebounce string `yaml:"reload_debounce"`
}

// SimulationConfig configures the tick source and transition timing.
type SimulationConfig struct {
	TickInterval       string `yaml:"tick_interval"`
	TransitionDuration string `yaml:"transition_duration"`
	NoticeTTL          string `yaml:"notice_ttl"`
}

// StoreConfig configures the SQLite progress store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `yaml:"path"`
}

// ProgressConfig configures delivery to a remote persistence endpoint.
type ProgressConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Timeout   string `yaml:"timeout"`
	QueueSize int    `yaml:"queue_size"`
}

// ServerConfig configures the HTTP persistence endpoint.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Experiments: ExperimentsConfig{
			Dir:            "",
			Watch:          false,
			ReloadDebounce: "250ms",
		},
		Simulation: SimulationConfig{
			TickInterval:       "50ms",
			TransitionDuration: "1s",
			NoticeTTL:          "3s",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/chemlab.db",
		},
		Progress: ProgressConfig{
			Timeout:   "5s",
			QueueSize: 64,
		},
		Server: ServerConfig{
			Addr:         ":8088",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("CHEMLAB_EXPERIMENTS_DIR"); dir != "" {
		c.Experiments.Dir = dir
	}
	if path := os.Getenv("CHEMLAB_DB"); path != "" {
		c.Store.Path = path
	}
	if driver := os.Getenv("CHEMLAB_DB_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if url := os.Getenv("CHEMLAB_PROGRESS_URL"); url != "" {
		c.Progress.URL = url
	}
	if token := os.Getenv("CHEMLAB_PROGRESS_TOKEN"); token != "" {
		c.Progress.Token = token
	}
	if level := os.Getenv("CHEMLAB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CHEMLAB_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if watch := os.Getenv("CHEMLAB_WATCH"); watch != "" {
		if v, err := strconv.ParseBool(watch); err == nil {
			c.Experiments.Watch = v
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetTickInterval returns the animation tick interval as a duration.
func (c *Config) GetTickInterval() time.Duration {
	return parseDuration(c.Simulation.TickInterval, 50*time.Millisecond)
}

// GetTransitionDuration returns the default transition length.
func (c *Config) GetTransitionDuration() time.Duration {
	return parseDuration(c.Simulation.TransitionDuration, time.Second)
}

// GetNoticeTTL returns how long transient notices stay visible.
func (c *Config) GetNoticeTTL() time.Duration {
	return parseDuration(c.Simulation.NoticeTTL, 3*time.Second)
}

// GetReloadDebounce returns the definition reload debounce.
func (c *Config) GetReloadDebounce() time.Duration {
	return parseDuration(c.Experiments.ReloadDebounce, 250*time.Millisecond)
}

// GetProgressTimeout returns the per-delivery timeout.
func (c *Config) GetProgressTimeout() time.Duration {
	return parseDuration(c.Progress.Timeout, 5*time.Second)
}

// GetReadTimeout returns the server read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout returns the server write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 10*time.Second)
}

// ValidDrivers lists the supported database/sql driver names.
var ValidDrivers = []string{"sqlite", "sqlite3"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path not configured (set store.path or CHEMLAB_DB)")
	}

	for name, value := range map[string]string{
		"simulation.tick_interval":       c.Simulation.TickInterval,
		"simulation.transition_duration": c.Simulation.TransitionDuration,
		"simulation.notice_ttl":          c.Simulation.NoticeTTL,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", name, value)
		}
	}

	if c.Progress.QueueSize < 1 {
		return fmt.Errorf("progress.queue_size must be positive, got %d", c.Progress.QueueSize)
	}

	return c.Logging.Validate()
}

// IsRemoteProgressEnabled returns whether records are posted to a remote endpoint.
func (c *Config) IsRemoteProgressEnabled() bool {
	return c.Progress.URL != ""
}
