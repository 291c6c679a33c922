// Package telemetry provides logging, tracing and metrics for procci.
//
// The package wraps zerolog for structured logging, OpenTelemetry for
// tracing and Prometheus for metrics behind a single Telemetry value that
// travels in the context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Components pick the logger out of the context and derive child loggers:
//
//	logger := telemetry.FromContext(ctx).NewComponentLogger("provisioner")
//	logger.WithResource("doubler", "singularityhub").Info("building")
//
// A suite run is wrapped with WithRunContext, which opens the run span and
// records run metrics when the returned end function is called:
//
//	ctx, end := telemetry.WithRunContext(ctx, runID, "CustomTest")
//	defer end("completed", nil)
//
// Stages inside a run use StartOperation:
//
//	op := telemetry.StartOperation(ctx, "test.generate_inputs")
//	defer op.End(err)
//
// # Metrics
//
// All metrics live in a private registry exposed by Metrics.Handler:
//
//	procci_tests_total{suite,status}
//	procci_stage_duration_seconds{stage}
//	procci_resources_total{status}
//	procci_builds_total{builder,result}
//	procci_engine_submissions_total{entrypoint,state}
//	procci_runs_completed_total{suite,outcome}
//
// Every Metrics method tolerates a nil receiver and a disabled collector, so
// callers never need to check whether telemetry was configured.
package telemetry
