package policy

import (
	"context"

	"github.com/rs/zerolog"
)

// AdmissionConfig holds the allowlists handed to policies.
type AdmissionConfig struct {
	// AllowedBuilders restricts resource types. Empty allows all.
	AllowedBuilders []string `yaml:"allowed_builders" json:"allowed_builders"`

	// AllowedRegistries restricts singularity registries. Empty allows all.
	AllowedRegistries []string `yaml:"allowed_registries" json:"allowed_registries"`

	// Paths are extra .rego or JSON policy files and directories.
	Paths []string `yaml:"paths" json:"paths"`
}

// Admission admits resources before their builders are constructed.
type Admission struct {
	engine *Engine
	cfg    ConfigInput
	logger zerolog.Logger
}

// NewAdmission creates an admission controller, loading cfg.Paths.
func NewAdmission(ctx context.Context, cfg AdmissionConfig, logger zerolog.Logger) (*Admission, error) {
	eng, err := NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}

	input := ConfigInput{
		AllowedBuilders:   append([]string{}, cfg.AllowedBuilders...),
		AllowedRegistries: append([]string{}, cfg.AllowedRegistries...),
	}
	return &Admission{
		engine: eng,
		cfg:    input,
		logger: logger.With().Str("component", "admission").Logger(),
	}, nil
}

// Engine returns the underlying policy engine.
func (a *Admission) Engine() *Engine {
	return a.engine
}

// Admit returns a *DeniedError when a blocking policy matches the resource.
func (a *Admission) Admit(ctx context.Context, name, builderType string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	decision, err := a.engine.Evaluate(ctx, &Input{
		Resource: ResourceInput{Name: name, Type: builderType, Parameters: params},
		Config:   a.cfg,
	})
	if err != nil {
		return err
	}

	for _, w := range decision.Warnings {
		a.logger.Warn().
			Str("policy", w.Policy).
			Str("resource", name).
			Msg(w.Message)
	}
	if !decision.Allowed {
		return &DeniedError{Resource: name, Violations: decision.Violations}
	}
	return nil
}

// Watch reloads the configured policy paths when they change.
func (a *Admission) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(a.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return a.engine.ReplacePolicies(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}
