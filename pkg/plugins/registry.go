package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// ErrUnknownEntrypoint is matched by every UnknownEntrypointError.
var ErrUnknownEntrypoint = errors.New("unknown entrypoint")

// UnknownEntrypointError reports an entrypoint that cannot be resolved.
type UnknownEntrypointError struct {
	Entrypoint string
	Reason     string
}

func (e *UnknownEntrypointError) Error() string {
	return fmt.Sprintf("cannot load entrypoint %q: %s", e.Entrypoint, e.Reason)
}

// Is matches ErrUnknownEntrypoint.
func (e *UnknownEntrypointError) Is(target error) bool {
	return target == ErrUnknownEntrypoint
}

// Class names the error in status records.
func (e *UnknownEntrypointError) Class() string { return "MissingEntryPointError" }

// Registry maps entrypoints to process types.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]engine.Process
	loader    *ManifestLoader
	logger    *telemetry.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Registry{
		processes: make(map[string]engine.Process),
		loader:    NewManifestLoader(),
		logger:    logger.NewComponentLogger("plugins"),
	}
}

// Default returns a registry holding the built-in process types.
func Default(logger *telemetry.Logger) *Registry {
	r := NewRegistry(logger)
	for _, p := range []engine.Process{
		Doubler{},
		TemplateReplacer{Parsers: DefaultParsers()},
		ArithmeticAdd{},
	} {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a process type under its entrypoint.
func (r *Registry) Register(p engine.Process) error {
	ep := p.Entrypoint()
	if _, _, err := SplitEntrypoint(ep); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processes[ep]; exists {
		return fmt.Errorf("entrypoint %s already registered", ep)
	}
	r.processes[ep] = p
	return nil
}

// Resolve returns the process type registered for entrypoint.
func (r *Registry) Resolve(entrypoint string) (engine.Process, error) {
	if _, _, err := SplitEntrypoint(entrypoint); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[entrypoint]
	if !ok {
		return nil, &UnknownEntrypointError{Entrypoint: entrypoint, Reason: "no process type registered"}
	}
	return p, nil
}

// Entrypoints lists registered entrypoints in sorted order.
func (r *Registry) Entrypoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := make([]string, 0, len(r.processes))
	for ep := range r.processes {
		eps = append(eps, ep)
	}
	sort.Strings(eps)
	return eps
}

// ScanDirectory registers every <dir>/<plugin>/manifest.yaml. Broken
// manifests are logged and skipped.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return loaded, err
		}

		manifest, err := r.loader.LoadFromFile(path)
		if err == nil {
			err = r.Register(manifest.Process())
		}
		if err != nil {
			r.logger.WithError(err).WithField("manifest", path).Warn("Skipping plugin manifest")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// SplitEntrypoint splits "group:name".
func SplitEntrypoint(entrypoint string) (group, name string, err error) {
	group, name, ok := strings.Cut(entrypoint, ":")
	if !ok || group == "" || name == "" || strings.Contains(name, ":") {
		return "", "", &UnknownEntrypointError{Entrypoint: entrypoint, Reason: `expected "group:name"`}
	}
	return group, name, nil
}
