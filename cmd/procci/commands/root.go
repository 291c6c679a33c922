package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/harness"
)

var (
	// Global flags
	configPath  string
	testDir     string
	format      string
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var opts runOptions

	rootCmd := &cobra.Command{
		Use:   "procci",
		Short: "procci - continuous integration for process plugins",
		Long: `procci discovers test suites for process plugins, provisions the codes
they need and runs every test, reporting a status record per test.

Suites come from two places:
  - Go suites linked into the binary
  - test_*.yaml / test_*.cue manifests in the test directory, backed by Starlark

Running procci without a subcommand is the same as 'procci run'.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return harness.ValidateFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuites(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default procci.yaml)")
	rootCmd.PersistentFlags().StringVar(&testDir, "test-dir", "", "directory scanned for suite manifests")
	rootCmd.PersistentFlags().StringVar(&format, "format", harness.FormatJSON, "report format (json, yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	opts.bind(rootCmd)

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDescribeCommand())
	rootCmd.AddCommand(newStatusCommand(version))
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
