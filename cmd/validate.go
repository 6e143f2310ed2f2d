package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/pipeline"
)

var validateOut string

var validateCmd = &cobra.Command{
	Use:   "validate <run-id>",
	Short: "Re-run the quality gate over a past run's fused records",
	Long:  "Loads the fused records persisted for a run and applies the quality gate under the current configuration, without re-fusing. Useful after tightening plausibility bounds.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		accepted, rejected, err := pipeline.New(cfg, st).Revalidate(ctx, args[0], validateOut)
		if err != nil {
			return eris.Wrap(err, "validate run")
		}

		out := validationResult{
			RunID:    args[0],
			Accepted: len(accepted),
			Rejected: len(rejected),
			Reasons:  rejectReasons(rejected),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

type validationResult struct {
	RunID    string         `json:"run_id"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Reasons  map[string]int `json:"reject_reasons,omitempty"`
}

// rejectReasons tallies rejections by rule name.
func rejectReasons(rejected []model.Rejection) map[string]int {
	if len(rejected) == 0 {
		return nil
	}
	reasons := make(map[string]int, len(rejected))
	for _, r := range rejected {
		reasons[r.Err.Rule]++
	}
	return reasons
}

func init() {
	validateCmd.Flags().StringVar(&validateOut, "out", "", "write accepted records to this CSV file")
	rootCmd.AddCommand(validateCmd)
}
