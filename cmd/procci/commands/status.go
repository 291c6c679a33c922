package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/procci/pkg/telemetry"
)

func newStatusCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the runtime and builder status",
		Long: `Print the Go runtime version, the procci version and, for every
registered code builder, whether its external dependencies are available.`,
		Example: `  procci status`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}
			registry := newBuilders(cfg, logger)
			if err := registry.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "*** Go version")
			fmt.Fprintln(out, runtime.Version())
			fmt.Fprintln(out, "*** procci version")
			fmt.Fprintf(out, "- procci: version %s\n", version)
			for _, tag := range registry.Tags() {
				fmt.Fprintf(out, "*** CODE BUILDER '%s'\n", tag)
				fmt.Fprintf(out, "- %s: %s\n", strings.ToUpper(tag), registry.Status(cmd.Context(), tag))
			}
			return nil
		},
	}

	return cmd
}
