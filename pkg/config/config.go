package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procci/pkg/policy"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "procci.yaml"

// Environment variables that override the file.
const (
	EnvTestDir   = "PROCCI_TEST_DIR"
	EnvCacheDir  = "PROCCI_CACHE_DIR"
	EnvStore     = "PROCCI_STORE"
	EnvPluginDir = "PROCCI_PLUGIN_DIR"
	EnvLogLevel  = "LOG_LEVEL"
)

// Config is the procci configuration.
type Config struct {
	// TestDir is scanned for test_*.yaml and test_*.cue suite manifests.
	TestDir string `yaml:"test_dir" validate:"required"`

	// CacheDir holds fetched code artifacts.
	CacheDir string `yaml:"cache_dir" validate:"required"`

	// PluginDir is scanned for process manifests. Empty disables the scan.
	PluginDir string `yaml:"plugin_dir"`

	// Computer is the computer record codes are registered against.
	Computer string `yaml:"computer" validate:"required"`

	Store     StoreConfig      `yaml:"store"`
	Engine    EngineConfig     `yaml:"engine"`
	Policy    PolicyConfig     `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EngineConfig configures the local engine.
type EngineConfig struct {
	// WorkRoot is the parent of per-node scratch directories.
	WorkRoot string `yaml:"work_root"`

	KeepWorkDirs bool `yaml:"keep_work_dirs"`

	// Timeout bounds a single code invocation. Zero means no bound.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PolicyConfig configures resource admission.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	policy.AdmissionConfig `yaml:",inline"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		TestDir:   ".",
		CacheDir:  "/tmp/singularity-images",
		Computer:  "localhost",
		Store:     StoreConfig{Path: ".procci/procci.db"},
		Policy:    PolicyConfig{Enabled: true},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads path on top of the defaults. A missing file is not an error
// when path is the default file name; any other missing path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultFile:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTestDir); v != "" {
		c.TestDir = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvPluginDir); v != "" {
		c.PluginDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Telemetry.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks struct tags and the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
