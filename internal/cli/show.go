package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	showLimit   int
	showAlertID int64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert lifecycle events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			AlertID: showAlertID,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of events to display")
	showCmd.Flags().Int64Var(&showAlertID, "alert", 0, "Restrict to one alert id")
}
