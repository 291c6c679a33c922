package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/suites"
)

func newWatchCommand() *cobra.Command {
	var (
		opts     runOptions
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run suites and re-run them when their files change",
		Long: `Run the suites once, then watch the test directory and run them again
whenever a manifest or Starlark script changes. Policy files configured
under policy.paths are reloaded on change as well.

Stop with Ctrl+C.`,
		Example: `  # Re-run everything on change
  procci watch

  # Only re-run one suite
  procci watch --suite DoublerTest`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close(ctx)
			ctx = a.context(ctx)
			logger := a.telemetry.Logger

			if a.admission != nil && len(a.cfg.Policy.Paths) > 0 {
				loader, err := a.admission.Watch(ctx, a.cfg.Policy.Paths)
				if err != nil {
					return err
				}
				defer func() { _ = loader.StopWatching() }()
			}

			run := func(ctx context.Context) error {
				return a.runAll(ctx, cmd.OutOrStdout(), opts)
			}
			if err := run(ctx); err != nil {
				logger.WithError(err).Warn("Initial run failed")
			}

			logger.WithField("dir", a.cfg.TestDir).Info("Watching for changes")
			return suites.NewWatcher(a.cfg.TestDir, debounce, logger).Run(ctx, run)
		},
	}

	opts.bind(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", suites.DefaultDebounce, "quiet period before a re-run")

	return cmd
}
