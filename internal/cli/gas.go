package cli

import (
	"time"

	"github.com/spf13/cobra"

	"lineaclaim/internal/app"
)

var (
	gasMaxGwei float64
	gasTimeout time.Duration
)

var gasCmd = &cobra.Command{
	Use:   "gas",
	Short: "Print the current fee estimate, optionally waiting for a threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Gas(cmd.Context(), app.GasOptions{
			MaxGwei: gasMaxGwei,
			Timeout: gasTimeout,
		})
	},
}

func init() {
	gasCmd.Flags().Float64Var(&gasMaxGwei, "max-gwei", 0, "Wait until max fee drops to this many gwei (0 prints immediately)")
	gasCmd.Flags().DurationVar(&gasTimeout, "timeout", 0, "Give up waiting after this long (defaults to gas.wait_timeout)")
}
