package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openfroyo/procci/pkg/stores"
)

// History records suite runs in a store.
type History struct {
	store stores.Store
}

var _ Recorder = (*History)(nil)

// NewHistory creates a history backed by store.
func NewHistory(store stores.Store) *History {
	return &History{store: store}
}

// Record persists res and its per-test results.
func (h *History) Record(ctx context.Context, res *RunResult) error {
	resources, err := json.Marshal(res.Resources)
	if err != nil {
		return fmt.Errorf("encoding provisioning report: %w", err)
	}

	if err := h.store.CreateTestRun(ctx, &stores.TestRun{
		ID:        res.RunID,
		Suite:     res.Suite,
		StartedAt: res.StartedAt,
	}); err != nil {
		return err
	}

	names := make([]string, 0, len(res.Tests))
	for name := range res.Tests {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*stores.TestResult, 0, len(names))
	for _, name := range names {
		rec := res.Tests[name]
		results = append(results, &stores.TestResult{
			RunID:              res.RunID,
			Test:               name,
			Status:             string(rec.Status),
			ExceptionClass:     optional(rec.ExceptionClass),
			ExceptionMessage:   optional(rec.ExceptionMessage),
			ExceptionTraceback: optional(rec.ExceptionTraceback),
			RetCode:            rec.RetCode,
		})
	}
	if len(results) > 0 {
		if err := h.store.AddTestResults(ctx, results); err != nil {
			return err
		}
	}

	return h.store.CompleteTestRun(ctx, res.RunID, res.Halted, string(resources))
}

// RunSummary is a recorded run with its test report.
type RunSummary struct {
	Run   *stores.TestRun `json:"run" yaml:"run"`
	Tests RunReport       `json:"tests" yaml:"tests"`
}

// List returns recorded runs, newest first, optionally filtered by suite.
func (h *History) List(ctx context.Context, suite string, limit int) ([]RunSummary, error) {
	var filter *string
	if suite != "" {
		filter = &suite
	}

	runs, err := h.store.ListTestRuns(ctx, filter, limit, 0)
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		results, err := h.store.ListTestResults(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		report := RunReport{}
		for _, r := range results {
			report[r.Test] = StatusRecord{
				Status:             StatusKind(r.Status),
				ExceptionClass:     deref(r.ExceptionClass),
				ExceptionMessage:   deref(r.ExceptionMessage),
				ExceptionTraceback: deref(r.ExceptionTraceback),
				RetCode:            r.RetCode,
			}
		}
		out = append(out, RunSummary{Run: run, Tests: report})
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
