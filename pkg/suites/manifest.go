package suites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procci/pkg/config"
	"github.com/openfroyo/procci/pkg/harness"
)

// ManifestPatterns are the glob patterns scanned in a test directory.
var ManifestPatterns = []string{"test_*.yaml", "test_*.yml", "test_*.cue"}

// Manifest declares a scripted suite.
type Manifest struct {
	Name        string                          `json:"name" yaml:"name"`
	Description string                          `json:"description,omitempty" yaml:"description,omitempty"`
	Script      string                          `json:"script" yaml:"script"`
	Codes       map[string]harness.ResourceSpec `json:"codes,omitempty" yaml:"codes,omitempty"`
	Tests       map[string]TestDecl             `json:"tests" yaml:"tests"`

	// Path is the file the manifest was read from.
	Path string `json:"-" yaml:"-"`
}

// TestDecl declares one test of a scripted suite.
type TestDecl struct {
	Priority   int    `json:"priority" yaml:"priority"`
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`

	// Generate names the script function producing the inputs.
	Generate string `json:"generate" yaml:"generate"`

	// Body names the script function checking the node. Defaults to the test name.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

// ScriptPath resolves the script relative to the manifest.
func (m *Manifest) ScriptPath() string {
	if filepath.IsAbs(m.Script) {
		return m.Script
	}
	return filepath.Join(filepath.Dir(m.Path), m.Script)
}

// TestNames returns the declared test names in sorted order.
func (m *Manifest) TestNames() []string {
	names := make([]string, 0, len(m.Tests))
	for name := range m.Tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManifestLoader reads suite manifests and validates them against the
// suite schema.
type ManifestLoader struct {
	schemas *config.SchemaRegistry
	cue     *config.CUEParser
}

// NewManifestLoader creates a loader. A nil registry gets the built-in schemas.
func NewManifestLoader(schemas *config.SchemaRegistry) *ManifestLoader {
	if schemas == nil {
		schemas = config.NewSchemaRegistry()
	}
	return &ManifestLoader{
		schemas: schemas,
		cue:     config.NewCUEParser(schemas),
	}
}

// LoadFromFile loads a YAML or CUE manifest.
func (l *ManifestLoader) LoadFromFile(ctx context.Context, path string) (*Manifest, error) {
	var m Manifest

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		if err := l.cue.DecodeFile(ctx, path, config.SchemaSuite, &m); err != nil {
			return nil, fmt.Errorf("invalid suite manifest: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
		if err := l.schemas.Decode(ctx, config.SchemaSuite, raw, &m); err != nil {
			return nil, fmt.Errorf("invalid suite manifest %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", path)
	}

	m.Path = path
	for name, decl := range m.Tests {
		if decl.Body == "" {
			decl.Body = name
			m.Tests[name] = decl
		}
	}
	return &m, nil
}

// FindManifests returns the manifest files in dir in sorted order.
func FindManifests(dir string) ([]string, error) {
	var files []string
	for _, pattern := range ManifestPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
