package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/procci/pkg/builders"
	"github.com/openfroyo/procci/pkg/config"
	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/harness"
	"github.com/openfroyo/procci/pkg/plugins"
	"github.com/openfroyo/procci/pkg/policy"
	"github.com/openfroyo/procci/pkg/stores"
	"github.com/openfroyo/procci/pkg/suites"
	"github.com/openfroyo/procci/pkg/telemetry"

	// Go suites shipped with procci.
	_ "github.com/openfroyo/procci/examples"
)

// app is the wired set of collaborators shared by the commands.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	engine    *engine.LocalEngine
	builders  *builders.Registry
	plugins   *plugins.Registry
	admission *policy.Admission
	history   *harness.History
	runner    *harness.Runner
	suites    *suites.Loader
}

// loadConfig reads the configuration selected by the global flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if testDir != "" {
		cfg.TestDir = testDir
	}
	if metricsAddr != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.ListenAddress = metricsAddr
	}
	return cfg, nil
}

// newBuilders creates the builder registry for cfg.
func newBuilders(cfg *config.Config, logger *telemetry.Logger) *builders.Registry {
	return builders.Default(builders.Options{
		CacheDir: cfg.CacheDir,
		Logger:   logger.NewComponentLogger("builders"),
	})
}

// newApp wires every collaborator. Run progress is written to out.
func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger

	a := &app{cfg: cfg, telemetry: tel}
	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	executor := engine.NewExecutor(engine.ExecutorConfig{Timeout: cfg.Engine.Timeout}, logger)
	a.engine = engine.NewLocalEngine(a.store, executor, engine.Options{
		WorkRoot:     cfg.Engine.WorkRoot,
		Computer:     cfg.Computer,
		KeepWorkDirs: cfg.Engine.KeepWorkDirs,
	}, logger)
	if err := a.engine.EnsureComputer(ctx, cfg.Computer); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.builders = newBuilders(cfg, logger)

	a.plugins = plugins.Default(logger)
	if cfg.PluginDir != "" {
		n, err := a.plugins.ScanDirectory(ctx, cfg.PluginDir)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		logger.WithField("plugins", n).Debug("Loaded plugin manifests")
	}

	provOpts := []harness.ProvisionerOption{harness.WithProvisionerLogger(logger)}
	if cfg.Policy.Enabled {
		a.admission, err = policy.NewAdmission(ctx, cfg.Policy.AdmissionConfig, logger.Zerolog())
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to load admission policies: %w", err)
		}
		provOpts = append(provOpts, harness.WithAdmitter(a.admission))
	}
	provisioner := harness.NewProvisioner(a.builders, a.engine, provOpts...)

	a.history = harness.NewHistory(a.store)
	a.runner = harness.NewRunner(a.engine, a.plugins, provisioner,
		harness.WithOutput(out),
		harness.WithRecorder(a.history),
		harness.WithRunnerLogger(logger),
	)
	a.suites = newSuiteLoader(cfg, logger)

	if err := tel.Metrics.StartMetricsServer(); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func newSuiteLoader(cfg *config.Config, logger *telemetry.Logger) *suites.Loader {
	return suites.NewLoader(cfg.TestDir, suites.WithLogger(logger))
}

// openStore opens and migrates the SQLite store, creating its directory.
func (a *app) openStore(ctx context.Context) error {
	path := a.cfg.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		return err
	}
	return store.Migrate(ctx)
}

// context attaches telemetry to ctx.
func (a *app) context(ctx context.Context) context.Context {
	return a.telemetry.WithContext(ctx)
}

func (a *app) close(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Store close failed")
		}
	}
}
