package suites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/procci/pkg/config"
	"github.com/openfroyo/procci/pkg/harness"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// Loader discovers the suites of a test directory: every suite registered
// from Go plus one scripted suite per manifest.
type Loader struct {
	dir       string
	manifests *ManifestLoader
	timeout   time.Duration
	logger    *telemetry.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSchemas sets the schema registry manifests are validated against.
func WithSchemas(sr *config.SchemaRegistry) LoaderOption {
	return func(l *Loader) { l.manifests = NewManifestLoader(sr) }
}

// WithScriptTimeout bounds each script call.
func WithScriptTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:     dir,
		timeout: DefaultTimeout,
		logger:  telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.manifests == nil {
		l.manifests = NewManifestLoader(nil)
	}
	l.logger = l.logger.NewComponentLogger("suites")
	return l
}

// Dir returns the test directory.
func (l *Loader) Dir() string { return l.dir }

// Load returns fresh instances of every suite, sorted by name. Manifest
// errors are joined; a name used twice is an error.
func (l *Loader) Load(ctx context.Context) ([]harness.Suite, error) {
	var all []harness.Suite
	for _, name := range harness.RegisteredSuites() {
		s, err := harness.NewSuite(name)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}

	scripted, err := l.LoadScripted(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range scripted {
		all = append(all, s)
	}

	seen := make(map[string]bool, len(all))
	for _, s := range all {
		if seen[s.Name()] {
			return nil, fmt.Errorf("suite %q is defined more than once", s.Name())
		}
		seen[s.Name()] = true
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all, nil
}

// LoadScripted loads every manifest in the test directory.
func (l *Loader) LoadScripted(ctx context.Context) ([]*ScriptSuite, error) {
	files, err := FindManifests(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.dir, err)
	}

	var (
		suites []*ScriptSuite
		errs   []error
	)
	for _, path := range files {
		s, err := l.LoadFile(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		suites = append(suites, s)
	}

	l.logger.WithFields(map[string]interface{}{
		"dir":       l.dir,
		"manifests": len(files),
		"loaded":    len(suites),
	}).Debug("Scanned test directory")

	return suites, errors.Join(errs...)
}

// LoadFile loads one manifest and its script.
func (l *Loader) LoadFile(ctx context.Context, path string) (*ScriptSuite, error) {
	m, err := l.manifests.LoadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	script, err := LoadScript(ctx, m.ScriptPath(), l.timeout, l.logger.WithSuite(m.Name))
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", m.Name, err)
	}

	return NewScriptSuite(ctx, m, script)
}
