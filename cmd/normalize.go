package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climatehealth/fusion-cli/internal/pipeline"
)

var (
	normNOAADir  string
	normWHODir   string
	normCMIP5Dir string
	normRegions  string
	normStations string
	normOut      string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize source files without fusing or persisting",
	Long:  "Dry run of the ingestion front half: discovers and normalizes every input file, prints the stage counts, and optionally writes the normalized records to JSONL. Nothing is stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if normRegions != "" {
			cfg.Region.Shapefile = normRegions
		}
		if normStations != "" {
			cfg.Region.Stations = normStations
		}

		dirs := pipeline.Dirs{NOAA: normNOAADir, WHO: normWHODir, CMIP5: normCMIP5Dir}
		if dirs == (pipeline.Dirs{}) {
			return eris.New("at least one input directory is required (--noaa-dir, --who-dir, --cmip5-dir)")
		}

		records, summary, err := pipeline.New(cfg, nil).Preview(ctx, dirs)
		if err != nil {
			return eris.Wrap(err, "normalize")
		}

		if normOut != "" {
			if err := pipeline.WriteJSONL(normOut, records); err != nil {
				return err
			}
			zap.L().Info("normalized records written",
				zap.String("path", normOut),
				zap.Int("records", len(records)),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	normalizeCmd.Flags().StringVar(&normNOAADir, "noaa-dir", "", "directory of NOAA GSOM monthly CSV files")
	normalizeCmd.Flags().StringVar(&normWHODir, "who-dir", "", "directory of WHO mortality tables plus country_codes.csv and pop.csv")
	normalizeCmd.Flags().StringVar(&normCMIP5Dir, "cmip5-dir", "", "directory of CMIP5 ESRI ASCII grids")
	normalizeCmd.Flags().StringVar(&normRegions, "regions", "", "region boundary shapefile (overrides region.shapefile)")
	normalizeCmd.Flags().StringVar(&normStations, "stations", "", "station coordinate table (overrides region.stations)")
	normalizeCmd.Flags().StringVar(&normOut, "out", "", "write normalized records to this JSONL file")
	rootCmd.AddCommand(normalizeCmd)
}
