package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single evaluation pass and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := getApp().CheckOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "checked: %d\ntriggered: %d\nerrors: %d\n",
			summary.Checked, summary.Triggered, len(summary.Errors))
		for _, evalErr := range summary.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  alert %d: %s\n", evalErr.AlertID, evalErr.Message)
		}
		if summary.Incomplete {
			fmt.Fprintln(cmd.OutOrStdout(), "warning: pass abandoned at deadline; remaining alerts not checked")
		}
		return nil
	},
}
