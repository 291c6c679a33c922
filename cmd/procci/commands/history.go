package commands

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/harness"
)

func newHistoryCommand() *cobra.Command {
	var (
		suite string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded suite runs",
		Long: `List suite runs recorded in the store, newest first.

A table is printed by default. With --format the runs and their full test
reports are encoded instead.`,
		Example: `  # Last 20 runs
  procci history

  # Runs of one suite as YAML
  procci history --suite CustomTest --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, io.Discard)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			runs, err := a.history.List(ctx, suite, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("format") {
				return harness.EncodeReport(out, runs, format)
			}
			renderHistory(out, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&suite, "suite", "", "only runs of this suite")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

func renderHistory(w io.Writer, runs []harness.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Suite", "Started", "Duration", "Tests", "Passed", "Failed", "Outcome"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
	})

	for _, r := range runs {
		passed := 0
		for _, rec := range r.Tests {
			if rec.OK() {
				passed++
			}
		}

		duration := "-"
		if r.Run.CompletedAt != nil {
			duration = r.Run.CompletedAt.Sub(r.Run.StartedAt).Round(time.Millisecond).String()
		}

		t.AppendRow(table.Row{
			r.Run.ID,
			r.Run.Suite,
			r.Run.StartedAt.Format(time.RFC3339),
			duration,
			len(r.Tests),
			passed,
			len(r.Tests) - passed,
			outcome(r),
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}

func outcome(r harness.RunSummary) string {
	res := harness.RunResult{Tests: r.Tests, Halted: r.Run.Halted}
	return res.Outcome()
}
