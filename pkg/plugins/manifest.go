package plugins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procci/pkg/engine"
)

// Output decoding modes of an external process.
const (
	OutputJSON    = "json"
	OutputInteger = "integer"
	OutputText    = "text"
)

// ManifestSpec is the manifest.yaml of an external process type.
type ManifestSpec struct {
	Entrypoint  string `yaml:"entrypoint" validate:"required"`
	Description string `yaml:"description"`

	// Executable is a native binary or a .wasm module, relative to the manifest.
	Executable string `yaml:"executable" validate:"required"`

	// Checksum is the optional sha256 of the executable.
	Checksum string `yaml:"checksum" validate:"omitempty,len=64,hexadecimal"`

	// Args are rendered with the process inputs as template parameters.
	Args []string `yaml:"args"`

	// Stdin is rendered like Args and fed to the executable.
	Stdin string `yaml:"stdin"`

	// Output selects how stdout becomes outputs: json, integer or text.
	Output string `yaml:"output" validate:"omitempty,oneof=json integer text"`

	// OutputKey names the output for integer and text modes.
	OutputKey string `yaml:"output_key"`
}

// Manifest is a loaded and verified manifest.
type Manifest struct {
	Spec ManifestSpec

	// Path is where the manifest was loaded from.
	Path string

	// ExecutablePath is the resolved absolute executable path.
	ExecutablePath string

	// Verified is set when a checksum was present and matched.
	Verified bool
}

// ManifestLoader loads external process manifests.
type ManifestLoader struct {
	validate *validator.Validate
}

// NewManifestLoader creates a manifest loader.
func NewManifestLoader() *ManifestLoader {
	return &ManifestLoader{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// LoadFromFile loads, validates and verifies a manifest.
func (l *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var spec ManifestSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := l.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if _, _, err := SplitEntrypoint(spec.Entrypoint); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	m := &Manifest{Spec: spec, Path: path, ExecutablePath: spec.Executable}
	if !filepath.IsAbs(m.ExecutablePath) {
		m.ExecutablePath = filepath.Join(filepath.Dir(path), spec.Executable)
	}
	if m.ExecutablePath, err = filepath.Abs(m.ExecutablePath); err != nil {
		return nil, err
	}

	module, err := os.ReadFile(m.ExecutablePath)
	if err != nil {
		return nil, fmt.Errorf("executable not found at %s: %w", m.ExecutablePath, err)
	}
	if spec.Checksum != "" {
		if err := m.VerifyChecksum(module); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// VerifyChecksum checks data against the manifest checksum.
func (m *Manifest) VerifyChecksum(data []byte) error {
	sum := sha256.Sum256(data)
	computed := hex.EncodeToString(sum[:])
	if !strings.EqualFold(computed, m.Spec.Checksum) {
		return fmt.Errorf("executable checksum mismatch: expected %s, got %s", m.Spec.Checksum, computed)
	}
	m.Verified = true
	return nil
}

// Process returns the process type the manifest declares.
func (m *Manifest) Process() engine.Process {
	return &ExternalProcess{manifest: m}
}

// ExternalProcess runs a manifest's executable with rendered arguments.
type ExternalProcess struct {
	manifest *Manifest
}

// Entrypoint implements engine.Process.
func (p *ExternalProcess) Entrypoint() string { return p.manifest.Spec.Entrypoint }

// Run implements engine.Process.
func (p *ExternalProcess) Run(ctx context.Context, rc *engine.RunContext) (engine.Outputs, error) {
	spec := p.manifest.Spec

	args := make([]string, 0, len(spec.Args))
	for _, a := range spec.Args {
		rendered, err := Render(a, rc.Inputs)
		if err != nil {
			return nil, &InputError{Input: "args", Reason: err.Error()}
		}
		args = append(args, rendered)
	}
	stdin, err := Render(spec.Stdin, rc.Inputs)
	if err != nil {
		return nil, &InputError{Input: "stdin", Reason: err.Error()}
	}

	res, err := rc.Executor.Run(ctx, engine.ExecRequest{
		Target:  p.manifest.ExecutablePath,
		Args:    args,
		Stdin:   []byte(stdin),
		WorkDir: rc.WorkDir,
	})
	if err != nil {
		return nil, err
	}
	rc.ExitStatus = res.ExitCode
	if res.ExitCode != 0 {
		return nil, engine.NewExecutionError(
			fmt.Sprintf("%s exited with status %d", spec.Entrypoint, res.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(res.Stderr)),
		)
	}

	key := spec.OutputKey
	if key == "" {
		key = "value"
	}
	switch spec.Output {
	case OutputInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
		if err != nil {
			return nil, &ParseError{Parser: spec.Entrypoint, Err: err}
		}
		return engine.Outputs{key: n}, nil
	case OutputText:
		return engine.Outputs{key: res.Stdout}, nil
	default:
		var out engine.Outputs
		if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
			return nil, &ParseError{Parser: spec.Entrypoint, Err: err}
		}
		return out, nil
	}
}
