package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lineaclaim/internal/app"
)

var (
	checkWorkers int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show claim status, allocation and balance per wallet without sending transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkWorkers <= 0 {
			return fmt.Errorf("--workers must be greater than zero")
		}
		return getApp().Check(cmd.Context(), app.CheckOptions{Workers: checkWorkers})
	},
}

func init() {
	checkCmd.Flags().IntVar(&checkWorkers, "workers", 4, "Number of wallets queried concurrently")
}
