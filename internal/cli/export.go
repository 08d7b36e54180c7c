package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lineaclaim/internal/app"
)

var (
	exportRunID     int64
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export per-wallet results of a run as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportRunID < 0 {
			return fmt.Errorf("--run cannot be negative")
		}

		opts := app.ExportOptions{
			RunID:     exportRunID,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportRunID, "run", 0, "Run ID to export (defaults to the latest run)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum wallets to chart (defaults to config)")
}
