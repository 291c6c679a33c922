package builders

import (
	"context"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// LocalTag is the registry tag of the local variant.
const LocalTag = "local"

// LocalParams are the resource parameters of the local variant.
type LocalParams struct {
	Path string `yaml:"path" validate:"required"`
}

// Local registers an executable that already exists on this machine.
type Local struct {
	path string
	opts Options
}

// LocalVariant returns the registry entry for local.
func LocalVariant() Variant {
	return Variant{
		Tag: LocalTag,
		New: func(params map[string]any, opts Options) (Builder, error) {
			return NewLocal(params, opts)
		},
		Status: func(context.Context, Options) string {
			return "always available"
		},
	}
}

// NewLocal creates a local builder.
func NewLocal(params map[string]any, opts Options) (*Local, error) {
	var p LocalParams
	if err := decodeParams(LocalTag, params, &p); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(p.Path)
	if err != nil {
		return nil, &ParamError{Builder: LocalTag, Err: err}
	}
	return &Local{path: abs, opts: opts.withDefaults()}, nil
}

// Build asserts the executable exists.
func (l *Local) Build(context.Context) error {
	if err := assertRegularFile(l.path); err != nil {
		return pkgerrors.WithStack(err)
	}
	l.opts.Logger.WithField("path", l.path).Debug("Local executable present")
	return nil
}

// ExecTarget returns the absolute executable path.
func (l *Local) ExecTarget() (string, error) {
	return l.path, nil
}
