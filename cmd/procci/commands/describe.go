package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/harness"
	"github.com/openfroyo/procci/pkg/telemetry"
)

func newDescribeCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe discovered suites without running them",
		Long: `Print, for every discovered suite, whether it sets up custom resources,
the codes it provisions and its tests in run order with their entrypoint
and input generator. Nothing is built or run.`,
		Example: `  # Describe all suites
  procci describe

  # Describe suites from another directory
  procci describe --test-dir ./ci/suites`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}

			all, err := newSuiteLoader(cfg, logger).Load(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := selectSuites(all, only)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range selected {
				fmt.Fprintf(out, "**** %s ****\n", s.Name())
				harness.Describe(out, s)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "suite", nil, "describe only the named suites")

	return cmd
}
