package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// Engine runs processes to completion.
type Engine interface {
	Submit(ctx context.Context, process engine.Process, inputs engine.Inputs) (engine.ResultHandle, error)
}

// Loader resolves entrypoint strings to process types.
type Loader interface {
	Resolve(entrypoint string) (engine.Process, error)
}

// RunReport maps test names to their terminal status.
type RunReport map[string]StatusRecord

// RunResult is everything one suite run produced.
type RunResult struct {
	RunID       string
	Suite       string
	Tests       RunReport
	Resources   ProvisionReport
	Halted      bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Outcome summarises the run as halted, passed or failed.
func (r *RunResult) Outcome() string {
	if r.Halted {
		return "halted"
	}
	for _, rec := range r.Tests {
		if !rec.OK() {
			return "failed"
		}
	}
	return "passed"
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, res *RunResult) error
}

// Runner orchestrates suite runs.
type Runner struct {
	engine      Engine
	loader      Loader
	provisioner *Provisioner
	recorder    Recorder
	out         io.Writer
	logger      *telemetry.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithOutput sets where progress lines are printed (default stdout).
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) { r.out = w }
}

// WithRecorder persists every finished run.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *telemetry.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner.
func NewRunner(eng Engine, loader Loader, provisioner *Provisioner, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:      eng,
		loader:      loader,
		provisioner: provisioner,
		out:         os.Stdout,
		logger:      telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.NewComponentLogger("runner")
	return r
}

// Run provisions s and runs its tests in plan order. Test failures are
// recorded in the result; the returned error is reserved for a broken
// builder registry, a failing SetupResources hook and recorder failures.
func (r *Runner) Run(ctx context.Context, s Suite, verbose bool) (res *RunResult, err error) {
	res = &RunResult{
		RunID:     uuid.New().String(),
		Suite:     s.Name(),
		Tests:     RunReport{},
		StartedAt: time.Now(),
	}

	ctx, end := telemetry.WithRunContext(ctx, res.RunID, res.Suite)
	defer func() { end(res.Outcome(), err) }()
	logger := r.logger.WithRunID(res.RunID).WithSuite(res.Suite)
	if binder, ok := s.(ContextBinder); ok {
		binder.BindContext(ctx)
	}

	base := s.SuiteBase()
	report, handles, err := r.provisioner.Provision(ctx, base.CodeResources)
	if err != nil {
		return res, err
	}
	res.Resources = report
	base.Codes = handles

	if verbose {
		fmt.Fprintf(r.out, "  -> Codes setup: %s\n", successWord(report.Success))
	}
	if !report.Success {
		res.Halted = true
		fmt.Fprintln(r.out, "     FAILED WHILE SETTING UP THE FOLLOWING CODES:")
		for _, name := range report.FailedResources() {
			rec, _ := json.Marshal(report.Resources[name])
			fmt.Fprintf(r.out, "       * %s\n", name)
			fmt.Fprintf(r.out, "         %s\n", rec)
		}
		logger.WithField("failed", report.FailedResources()).Warn("Provisioning failed, halting run")
		return res, r.finish(ctx, res)
	}

	if setter, ok := s.(ResourceSetter); ok {
		if err := setter.SetupResources(ctx); err != nil {
			return res, fmt.Errorf("setting up resources for %s: %w", res.Suite, err)
		}
		if verbose {
			fmt.Fprintln(r.out, "  -> Resources setup")
		}
	}

	for _, test := range Discover(s) {
		rec := r.runTest(ctx, res.Suite, test)
		res.Tests[test.Name] = rec
		if verbose {
			fmt.Fprintf(r.out, "  -> test '%s' run, status: %s\n", test.Name, rec.Status)
		}
	}

	logger.WithFields(map[string]interface{}{
		"tests":   len(res.Tests),
		"outcome": res.Outcome(),
	}).Info("Suite run complete")
	return res, r.finish(ctx, res)
}

func (r *Runner) finish(ctx context.Context, res *RunResult) error {
	res.CompletedAt = time.Now()
	if r.recorder == nil {
		return nil
	}
	if err := r.recorder.Record(ctx, res); err != nil {
		return fmt.Errorf("recording run %s: %w", res.RunID, err)
	}
	return nil
}

func (r *Runner) runTest(ctx context.Context, suite string, test TestSpec) StatusRecord {
	op := telemetry.StartOperation(ctx, "test.execute",
		telemetry.AttrSuite.String(suite),
		telemetry.AttrTest.String(test.Name),
		telemetry.AttrPriority.Int(test.Priority),
	)
	rec := r.stages(op.Ctx, test)
	telemetry.RecordStatus(op.Span, string(rec.Status), rec.OK())
	op.Span.End()

	telemetry.MetricsFromContext(ctx).RecordTest(suite, string(rec.Status))
	r.logger.WithSuite(suite).WithTest(test.Name).WithField("status", rec.Status).Debug("Test finished")
	return rec
}

// stages drives one test through resolve, generate, submit and body.
func (r *Runner) stages(ctx context.Context, test TestSpec) StatusRecord {
	var process engine.Process
	err := r.stage(ctx, "resolve", func() error {
		var err error
		process, err = r.loader.Resolve(test.Entrypoint)
		if err == nil && process == nil {
			err = fmt.Errorf("entrypoint %q resolved to no process", test.Entrypoint)
		}
		return err
	})
	if err != nil {
		return failureRecord(StatusEntrypointLoadingFailed, err)
	}

	var inputs engine.Inputs
	err = r.stage(ctx, "generate", func() error {
		var err error
		inputs, err = test.generate()
		return err
	})
	if err != nil {
		return failureRecord(StatusGenerateInputsFailed, err)
	}

	var node engine.ResultHandle
	err = r.stage(ctx, "submit", func() error {
		var err error
		node, err = r.engine.Submit(ctx, process, inputs)
		if err == nil && node == nil {
			err = fmt.Errorf("engine returned no node for %s", test.Entrypoint)
		}
		return err
	})
	if err != nil {
		return failureRecord(StatusEngineRunExcepted, err)
	}

	var ret int
	err = r.stage(ctx, "body", func() error {
		var err error
		ret, err = test.body(node)
		return err
	})
	if err != nil {
		return failureRecord(StatusTestFunctionExcepted, err)
	}

	if ret != 0 {
		return StatusRecord{Status: StatusTestFailed, RetCode: &ret}
	}
	return StatusRecord{Status: StatusSuccess}
}

func (r *Runner) stage(ctx context.Context, name string, fn func() error) error {
	timer := telemetry.NewTimer()
	err := guard(fn)
	telemetry.RecordStage(ctx, name, timer.Duration(), err)
	return err
}

func successWord(ok bool) string {
	if ok {
		return "SUCCESS"
	}
	return "FAILED"
}
