package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every signal it enables.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	return tel, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

func fromContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// MetricsFromContext returns the metrics of the telemetry in ctx, or nil.
// Metrics methods accept a nil receiver, so callers need no check.
func MetricsFromContext(ctx context.Context) *Metrics {
	if t := fromContext(ctx); t != nil {
		return t.Metrics
	}
	return nil
}

// Shutdown flushes buffered spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Operation is one traced unit of work. Ctx carries Span and a Logger
// tagged with the operation name and trace IDs.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation opens a span named operation. Without telemetry in ctx
// the span is a no-op and the logger is whatever ctx carries.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, Timer: NewTimer()}

	tel := fromContext(ctx)
	if tel == nil {
		op.Span = trace.SpanFromContext(ctx)
		op.Logger = FromContext(ctx)
		return op
	}

	op.Ctx, op.Span = tel.Tracer.StartSpan(ctx, operation, attrs...)
	op.Logger = FromContext(ctx).WithField("operation", operation)
	if sc := op.Span.SpanContext(); sc.IsValid() {
		op.Logger = op.Logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	op.Ctx = op.Logger.WithContext(op.Ctx)
	return op
}

// End closes the span, failing it when err is set.
func (op *Operation) End(err error) {
	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}

// WithRunContext opens the span of one suite run and tags the context
// logger with the run. The returned func records the outcome metrics and
// closes the span.
func WithRunContext(ctx context.Context, runID, suite string) (context.Context, func(outcome string, err error)) {
	ctx = FromContext(ctx).WithRunID(runID).WithSuite(suite).WithContext(ctx)

	tel := fromContext(ctx)
	if tel == nil {
		return ctx, func(string, error) {}
	}

	op := StartOperation(ctx, "run.execute", AttrRunID.String(runID), AttrSuite.String(suite))
	tel.Metrics.RecordRunStarted()
	return op.Ctx, func(outcome string, err error) {
		tel.Metrics.RecordRunCompleted(suite, outcome, op.Timer.Duration())
		op.Span.SetAttributes(attribute.String("run.outcome", outcome))
		op.End(err)
	}
}
