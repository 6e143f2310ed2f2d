package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect fusion run history",
	Long:  "Commands for listing, viewing, and summarizing fusion runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fusion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
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
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		since, _ := cmd.Flags().GetDuration("since")
		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}

		formatRunStats(os.Stdout, computeRunStats(runs, cutoff))
		return nil
	},
}

// -- runs prune --

var runsPruneCmd = &cobra.Command{
	Use:   "prune <run-id>",
	Short: "Delete a run's normalized-record checkpoint",
	Long: "Deletes the checkpoint saved for a run, reclaiming the bulk of its " +
		"storage. The run log and fused output stay; the run can no longer be " +
		"resumed with --resume.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs prune")
		}
		if run.Status == model.RunStatusRunning {
			return eris.Errorf("run %s is still running", run.ID)
		}

		if err := st.DeleteCheckpoint(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs prune")
		}
		fmt.Printf("Checkpoint pruned for run %s.\n", run.ID)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 0, "time window for stats (e.g. 24h, 168h); zero means all runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	Accepted   int64
	Rejected   int64
	AvgDurSecs float64
}

// computeRunStats aggregates runs started at or after the cutoff. A zero
// cutoff includes everything.
func computeRunStats(runs []model.Run, cutoff time.Time) runStats {
	var s runStats

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if !cutoff.IsZero() && r.StartedAt.Before(cutoff) {
			continue
		}
		s.Total++

		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}

		if r.Summary != nil {
			s.Accepted += r.Summary.Accepted
			s.Rejected += r.Summary.Rejected
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tACCEPTED\tREJECTED")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t--------\t--------")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		accepted, rejected := "", ""
		if r.Summary != nil {
			accepted = strconv.FormatInt(r.Summary.Accepted, 10)
			rejected = strconv.FormatInt(r.Summary.Rejected, 10)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			accepted,
			rejected,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Accepted rows:\t%d\n", s.Accepted)
	_, _ = fmt.Fprintf(w, "Rejected rows:\t%d\n", s.Rejected)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
