package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

func newRunCmd() *cobra.Command {
	var delaySeconds float64
	cmd := &cobra.Command{
		Use:   "run [FIRM]",
		Short: "Refresh every profile, or only those of one firm",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts := tracker.RunOptions{Delay: a.Config().Delay()}
			if len(args) == 1 {
				opts.Firm = strings.TrimSpace(args[0])
			}
			if cmd.Flags().Changed("delay-seconds") {
				delay, err := tracker.DelayFromSeconds(delaySeconds)
				if err != nil {
					return err
				}
				opts.Delay = delay
			}

			summary, runErr := a.Runner().Run(cmd.Context(), opts)
			for _, result := range summary.Results {
				printf(cmd, "%s\n", result.Message)
			}
			if summary.RunID != "" {
				printf(cmd, "%s\n", summary.Line())
			}
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&delaySeconds, "delay-seconds", 5, "pause between profiles (default tracker.delay_seconds)")
	return cmd
}
