package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAlertID int64
	simulatePrice   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟触发一条告警并走完通知流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAlertID <= 0 {
			return errors.New("--alert 必须大于 0")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateAlertID, price)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateAlertID, "alert", 0, "Alert id to trigger")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price in USD")
}
