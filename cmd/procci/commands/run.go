package commands

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/harness"
)

type runOptions struct {
	failOnError bool
	only        []string
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.failOnError, "fail-on-error", false, "exit non-zero when any suite does not pass")
	cmd.Flags().StringSliceVar(&o.only, "suite", nil, "run only the named suites")
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover and run all suites",
		Long: `Discover every suite, provision the codes each one needs and run its
tests in priority order.

Progress is printed per suite. When all suites are done the full report,
suite name to test name to status record, is printed in the selected format.
Failing tests do not change the exit status unless --fail-on-error is set.`,
		Example: `  # Run everything
  procci run

  # Run two suites and emit YAML
  procci run --suite CustomTest --suite FailingTest --format yaml

  # Fail the CI job when a test fails
  procci run --fail-on-error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuites(cmd, opts)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runSuites(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close(ctx)

	return a.runAll(a.context(ctx), cmd.OutOrStdout(), opts)
}

// runAll runs the selected suites and prints the combined report.
func (a *app) runAll(ctx context.Context, out io.Writer, opts runOptions) error {
	all, err := a.suites.Load(ctx)
	if err != nil {
		return err
	}
	selected, err := selectSuites(all, opts.only)
	if err != nil {
		return err
	}

	report := make(map[string]harness.RunReport, len(selected))
	var notPassed []string
	for _, s := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(out, "**** %s ****\n", s.Name())
		res, err := a.runner.Run(ctx, s, true)
		if err != nil {
			return fmt.Errorf("suite %s: %w", s.Name(), err)
		}
		report[s.Name()] = res.Tests
		if res.Outcome() != "passed" {
			notPassed = append(notPassed, s.Name())
		}
	}

	if err := harness.EncodeReport(out, report, format); err != nil {
		return err
	}
	if opts.failOnError && len(notPassed) > 0 {
		return fmt.Errorf("suites did not pass: %v", notPassed)
	}
	return nil
}

// selectSuites keeps the suites named in only, in load order. An empty
// filter keeps everything; an unknown name is an error.
func selectSuites(all []harness.Suite, only []string) ([]harness.Suite, error) {
	if len(only) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	var selected []harness.Suite
	for _, s := range all {
		if wanted[s.Name()] {
			selected = append(selected, s)
			delete(wanted, s.Name())
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown suites: %v", missing)
	}
	return selected, nil
}
