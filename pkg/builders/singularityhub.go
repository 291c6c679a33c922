package builders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// SingularityHubTag is the registry tag of the singularity hub variant.
const SingularityHubTag = "singularityhub"

// SingularityHubParams are the resource parameters of the singularityhub variant.
type SingularityHubParams struct {
	Username string `yaml:"username" validate:"required"`
	Reponame string `yaml:"reponame" validate:"required"`
	Registry string `yaml:"registry,omitempty" validate:"omitempty,hostname_rfc1123"`
	Tag      string `yaml:"tag,omitempty"`
	Commit   string `yaml:"commit,omitempty" validate:"omitempty,alphanum"`

	// ExecCommand would select a command inside the image.
	ExecCommand string `yaml:"exec_command,omitempty"`
}

// SingularityHub pulls an image from a Singularity Hub registry.
type SingularityHub struct {
	params SingularityHubParams
	opts   Options
}

// SingularityHubVariant returns the registry entry for singularityhub.
func SingularityHubVariant() Variant {
	return Variant{
		Tag: SingularityHubTag,
		New: func(params map[string]any, opts Options) (Builder, error) {
			return NewSingularityHub(params, opts)
		},
		Status: singularityStatus,
	}
}

// NewSingularityHub creates a singularityhub builder.
func NewSingularityHub(params map[string]any, opts Options) (*SingularityHub, error) {
	var p SingularityHubParams
	if err := decodeParams(SingularityHubTag, params, &p); err != nil {
		return nil, err
	}
	if p.ExecCommand != "" {
		return nil, pkgerrors.WithStack(&NotImplementedError{Feature: "exec_command"})
	}
	return &SingularityHub{params: p, opts: opts.withDefaults()}, nil
}

// ImageFilename returns the deterministic image file name
// [registry-]username-reponame-tag[-commit].simg.
func (s *SingularityHub) ImageFilename() string {
	var b strings.Builder
	if s.params.Registry != "" {
		b.WriteString(s.params.Registry)
		b.WriteString("-")
	}
	tag := s.params.Tag
	if tag == "" {
		tag = "latest"
	}
	fmt.Fprintf(&b, "%s-%s-%s", s.params.Username, s.params.Reponame, tag)
	if s.params.Commit != "" {
		b.WriteString("-")
		b.WriteString(s.params.Commit)
	}
	b.WriteString(".simg")
	return b.String()
}

// PullURI returns shub://[registry/]username/reponame[:tag][@commit].
func (s *SingularityHub) PullURI() string {
	var b strings.Builder
	b.WriteString("shub://")
	if s.params.Registry != "" {
		b.WriteString(s.params.Registry)
		b.WriteString("/")
	}
	b.WriteString(s.params.Username)
	b.WriteString("/")
	b.WriteString(s.params.Reponame)
	if s.params.Tag != "" {
		b.WriteString(":")
		b.WriteString(s.params.Tag)
	}
	if s.params.Commit != "" {
		b.WriteString("@")
		b.WriteString(s.params.Commit)
	}
	return b.String()
}

// Build pulls the image into the cache directory unless it is already there.
func (s *SingularityHub) Build(ctx context.Context) error {
	target, err := s.opts.cachePath(s.ImageFilename())
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	logger := s.opts.Logger.WithFields(map[string]interface{}{
		"builder": SingularityHubTag,
		"image":   target,
	})

	if fileExists(target) {
		logger.Debug("Image already present, skipping pull")
		return nil
	}

	if err := os.MkdirAll(s.opts.CacheDir, 0o755); err != nil {
		return pkgerrors.Wrap(err, "failed to create cache directory")
	}

	args := []string{"pull", "--name", s.ImageFilename(), s.PullURI()}
	logger.WithField("uri", s.PullURI()).Info("Pulling singularity image")

	cmd := exec.CommandContext(ctx, s.opts.SingularityBin, args...)
	cmd.Dir = s.opts.CacheDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		cerr := &CommandError{
			Command: append([]string{s.opts.SingularityBin}, args...),
			Output:  strings.TrimSpace(out.String()),
			Err:     err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		} else {
			cerr.ExitCode = -1
		}
		return pkgerrors.WithStack(cerr)
	}

	if err := assertRegularFile(target); err != nil {
		return pkgerrors.WithStack(err)
	}
	return nil
}

// ExecTarget returns the absolute image path.
func (s *SingularityHub) ExecTarget() (string, error) {
	return s.opts.cachePath(s.ImageFilename())
}

func singularityStatus(ctx context.Context, opts Options) string {
	opts = opts.withDefaults()
	out, err := exec.CommandContext(ctx, opts.SingularityBin, "--version").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "'singularity --version' returned an error"
		}
		return "'singularity' binary not found"
	}
	return fmt.Sprintf("version %s", strings.TrimSpace(string(out)))
}
