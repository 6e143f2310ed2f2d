package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climatehealth/fusion-cli/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print a human-readable report for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "report")
		}

		fmt.Print(report.FormatRun(run))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
