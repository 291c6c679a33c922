package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/procci/pkg/builders"
	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// CodeRegistrar registers an executable with the engine.
type CodeRegistrar interface {
	RegisterCode(ctx context.Context, execTarget, label string, md engine.CodeMetadata) (*engine.Code, error)
}

// Admitter decides whether a resource may be built at all.
type Admitter interface {
	Admit(ctx context.Context, name, builderType string, params map[string]any) error
}

// ProvisionReport aggregates the outcome of provisioning a suite's resources.
type ProvisionReport struct {
	Resources map[string]StatusRecord `json:"resources" yaml:"resources"`
	Success   bool                    `json:"success" yaml:"success"`
}

// FailedResources returns the names of failed resources in sorted order.
func (r ProvisionReport) FailedResources() []string {
	var names []string
	for name, rec := range r.Resources {
		if !rec.OK() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Provisioner turns resource specs into registered codes.
type Provisioner struct {
	registry  *builders.Registry
	registrar CodeRegistrar
	admitter  Admitter
	validate  *validator.Validate
	logger    *telemetry.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithAdmitter installs an admission check that runs before builder lookup.
func WithAdmitter(a Admitter) ProvisionerOption {
	return func(p *Provisioner) { p.admitter = a }
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(l *telemetry.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = l }
}

// NewProvisioner creates a provisioner.
func NewProvisioner(registry *builders.Registry, registrar CodeRegistrar, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		registry:  registry,
		registrar: registrar,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.NewComponentLogger("provisioner")
	return p
}

// Provision builds and registers every resource independently. A failure
// of one resource never prevents the others from being attempted. Only a
// malformed builder registry is returned as an error.
func (p *Provisioner) Provision(ctx context.Context, specs map[string]ResourceSpec) (ProvisionReport, map[string]*ResourceHandle, error) {
	report := ProvisionReport{Success: true, Resources: map[string]StatusRecord{}}
	handles := map[string]*ResourceHandle{}

	if err := p.registry.Validate(); err != nil {
		return report, handles, fmt.Errorf("builder registry is broken: %w", err)
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := telemetry.MetricsFromContext(ctx)
	for _, name := range names {
		handle, rec := p.provisionOne(ctx, name, specs[name])
		report.Resources[name] = rec
		metrics.RecordResource(string(rec.Status))
		if !rec.OK() {
			report.Success = false
			continue
		}
		handles[name] = handle
	}

	return report, handles, nil
}

func (p *Provisioner) provisionOne(ctx context.Context, name string, spec ResourceSpec) (*ResourceHandle, StatusRecord) {
	op := telemetry.StartOperation(ctx, "resource.provision",
		telemetry.AttrResource.String(name),
		telemetry.AttrBuilder.String(spec.Type),
	)
	ctx = op.Ctx
	logger := p.logger.WithResource(name, spec.Type)

	handle, rec := p.stages(ctx, name, spec)
	telemetry.RecordStatus(op.Span, string(rec.Status), rec.OK())
	op.Span.End()

	if rec.OK() {
		logger.WithField("exec_target", handle.ExecTarget).Info("Resource provisioned")
	} else {
		logger.WithFields(map[string]interface{}{
			"status": rec.Status,
			"error":  rec.ExceptionMessage,
		}).Warn("Resource provisioning failed")
	}
	return handle, rec
}

func (p *Provisioner) stages(ctx context.Context, name string, spec ResourceSpec) (*ResourceHandle, StatusRecord) {
	var builder builders.Builder
	err := guard(func() error {
		if err := p.validate.Struct(spec); err != nil {
			return err
		}
		if p.admitter != nil {
			if err := p.admitter.Admit(ctx, name, spec.Type, spec.Parameters); err != nil {
				return err
			}
		}
		var err error
		builder, err = p.registry.New(spec.Type, spec.Parameters)
		if err == nil && builder == nil {
			err = fmt.Errorf("builder %q returned no builder", spec.Type)
		}
		return err
	})
	if err != nil {
		return nil, failureRecord(StatusFetchingBuilderFailed, err)
	}

	var target string
	timer := telemetry.NewTimer()
	err = guard(func() error {
		if err := builder.Build(ctx); err != nil {
			return err
		}
		var err error
		target, err = builder.ExecTarget()
		return err
	})
	telemetry.MetricsFromContext(ctx).RecordBuild(spec.Type, timer.Duration(), err)
	if err != nil {
		return nil, failureRecord(StatusBuildingCodeFailed, err)
	}

	var code *engine.Code
	err = guard(func() error {
		var err error
		code, err = p.registrar.RegisterCode(ctx, target, name, engine.CodeMetadata{
			InputPlugin: spec.InputPlugin,
			Builder:     spec.Type,
		})
		if err == nil && code == nil {
			err = fmt.Errorf("registrar returned no code for %q", name)
		}
		return err
	})
	if err != nil {
		return nil, failureRecord(StatusSetupCodeFailed, err)
	}

	return &ResourceHandle{
		Name:       name,
		Builder:    spec.Type,
		ExecTarget: target,
		Code:       code,
	}, StatusRecord{Status: StatusSuccess}
}
