package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procci.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.CacheDir != "/tmp/singularity-images" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.Computer != "localhost" {
		t.Errorf("Computer = %q", cfg.Computer)
	}
	if !cfg.Policy.Enabled {
		t.Error("policy admission should be enabled by default")
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
test_dir: ./suites
cache_dir: /var/cache/procci
plugin_dir: ./plugins
store:
  path: /tmp/procci-test.db
engine:
  timeout: 90s
  keep_work_dirs: true
policy:
  enabled: false
  allowed_builders: [singularityhub, local]
  allowed_registries: [singularity-hub.org]
telemetry:
  logging:
    level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TestDir != "./suites" || cfg.CacheDir != "/var/cache/procci" || cfg.PluginDir != "./plugins" {
		t.Errorf("dirs = %q %q %q", cfg.TestDir, cfg.CacheDir, cfg.PluginDir)
	}
	if cfg.Store.Path != "/tmp/procci-test.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Engine.Timeout != 90*time.Second || !cfg.Engine.KeepWorkDirs {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Policy.Enabled {
		t.Error("Policy.Enabled should be false")
	}
	if !reflect.DeepEqual(cfg.Policy.AllowedBuilders, []string{"singularityhub", "local"}) {
		t.Errorf("AllowedBuilders = %v", cfg.Policy.AllowedBuilders)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Computer != "localhost" || cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("defaults lost: computer=%q format=%q", cfg.Computer, cfg.Telemetry.Logging.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "cache_dir: /from/file\n")

	t.Setenv(EnvCacheDir, "/from/env")
	t.Setenv(EnvStore, "/env/procci.db")
	t.Setenv(EnvTestDir, "/env/tests")
	t.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheDir != "/from/env" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.Store.Path != "/env/procci.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.TestDir != "/env/tests" {
		t.Errorf("TestDir = %q", cfg.TestDir)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Run("default name", func(t *testing.T) {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.Chdir(t.TempDir()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chdir(wd) })

		if _, err := Load(DefaultFile); err != nil {
			t.Errorf("missing default file should fall back to defaults: %v", err)
		}
	})

	t.Run("explicit path", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "other.yaml")); err == nil {
			t.Error("expected an error for a missing explicit config")
		}
	})
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken yaml", "test_dir: [\n"},
		{"empty cache dir", "cache_dir: \"\"\n"},
		{"empty store path", "store:\n  path: \"\"\n"},
		{"negative timeout", "engine:\n  timeout: -1s\n"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
