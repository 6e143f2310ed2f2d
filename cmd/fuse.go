package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climatehealth/fusion-cli/internal/pipeline"
)

var (
	fuseNOAADir  string
	fuseWHODir   string
	fuseCMIP5Dir string
	fuseRegions  string
	fuseStations string
	fuseOut      string
	fuseResumeID string
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Run the full fusion pipeline",
	Long:  "Discovers and normalizes every file under the input directories, fuses the records onto their coarsest common keys, gates the result, and records the run. With --resume, re-fuses a prior run from its checkpoint under the current configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if fuseRegions != "" {
			cfg.Region.Shapefile = fuseRegions
		}
		if fuseStations != "" {
			cfg.Region.Stations = fuseStations
		}

		dirs := pipeline.Dirs{NOAA: fuseNOAADir, WHO: fuseWHODir, CMIP5: fuseCMIP5Dir}
		if fuseResumeID == "" && dirs == (pipeline.Dirs{}) {
			return eris.New("at least one input directory is required (--noaa-dir, --who-dir, --cmip5-dir)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(cfg, st)

		var result *pipeline.Result
		if fuseResumeID != "" {
			result, err = p.Resume(ctx, fuseResumeID, fuseOut)
		} else {
			result, err = p.Run(ctx, dirs, fuseOut)
		}
		if err != nil {
			return eris.Wrap(err, "fusion run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	fuseCmd.Flags().StringVar(&fuseNOAADir, "noaa-dir", "", "directory of NOAA GSOM monthly CSV files")
	fuseCmd.Flags().StringVar(&fuseWHODir, "who-dir", "", "directory of WHO mortality tables plus country_codes.csv and pop.csv")
	fuseCmd.Flags().StringVar(&fuseCMIP5Dir, "cmip5-dir", "", "directory of CMIP5 ESRI ASCII grids")
	fuseCmd.Flags().StringVar(&fuseRegions, "regions", "", "region boundary shapefile (overrides region.shapefile)")
	fuseCmd.Flags().StringVar(&fuseStations, "stations", "", "station coordinate table (overrides region.stations)")
	fuseCmd.Flags().StringVar(&fuseOut, "out", "", "write accepted records to this CSV file")
	fuseCmd.Flags().StringVar(&fuseResumeID, "resume", "", "re-fuse this run ID from its checkpoint instead of reading inputs")
	rootCmd.AddCommand(fuseCmd)
}
