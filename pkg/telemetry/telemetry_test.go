package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, expectErr: true},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, expectErr: true},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			expectErr: true,
		},
		{name: "sampling out of range", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, expectErr: true},
		{name: "missing service", modify: func(c *Config) { c.ServiceName = "" }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("provisioner").
		WithResource("doubler", "singularityhub").
		WithTest("test_1").
		Info("built")

	out := buf.String()
	for _, want := range []string{`"component":"provisioner"`, `"resource":"doubler"`, `"builder":"singularityhub"`, `"test":"test_1"`, `"message":"built"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}

	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn message, got %s", buf.String())
	}
}

func TestLoggerContext(t *testing.T) {
	logger := NopLogger()
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected fallback logger")
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "procci"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordTest("CustomTest", "SUCCESS")
	m.RecordTest("CustomTest", "SUCCESS")
	m.RecordTest("CustomTest", "TEST_FAILED")
	m.RecordResource("SUCCESS")
	m.RecordBuild("singularityhub", time.Second, nil)

	if got := testutil.ToFloat64(m.testsTotal.WithLabelValues("CustomTest", "SUCCESS")); got != 2 {
		t.Errorf("expected 2 successful tests, got %v", got)
	}
	if got := testutil.ToFloat64(m.testsTotal.WithLabelValues("CustomTest", "TEST_FAILED")); got != 1 {
		t.Errorf("expected 1 failed test, got %v", got)
	}
	if got := testutil.ToFloat64(m.buildsTotal.WithLabelValues("singularityhub", "success")); got != 1 {
		t.Errorf("expected 1 build, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTest("s", "SUCCESS")
	m.RecordRunStarted()
	m.RecordRunCompleted("s", "completed", time.Second)
	m.RecordBuild("b", time.Second, nil)

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	disabled.RecordResource("SUCCESS")
	if disabled.Registry() != nil {
		t.Error("expected no registry for disabled metrics")
	}
	if err := disabled.StartMetricsServer(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "test.run")
	if op.Ctx == nil || op.Logger == nil || op.Timer == nil {
		t.Fatal("expected usable instrumented context")
	}
	op.End(nil)
}

func TestRunContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx, end := WithRunContext(ctx, "run-1", "CustomTest")
	if MetricsFromContext(ctx) != tel.Metrics {
		t.Fatal("expected metrics from context")
	}
	end("completed", nil)

	if got := testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("CustomTest", "completed")); got != 1 {
		t.Errorf("expected 1 completed run, got %v", got)
	}
}

func TestStartOperationTracesStages(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	op := StartOperation(tel.WithContext(context.Background()), "test.execute", AttrTest.String("test_1"))
	if TraceID(op.Ctx) == "" {
		t.Fatal("expected a trace id in the operation context")
	}
	if TraceID(context.Background()) != "" {
		t.Error("expected no trace id without a span")
	}

	RecordStage(op.Ctx, "generate", 20*time.Millisecond, nil)
	RecordStage(op.Ctx, "body", time.Millisecond, errors.New("boom"))
	op.End(nil)

	if got := testutil.CollectAndCount(tel.Metrics.stageDuration); got != 2 {
		t.Errorf("expected 2 stage series, got %d", got)
	}
}
