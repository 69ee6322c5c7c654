package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dev/bravebird/mar-export/pkg/consolidate"
	"dev/bravebird/mar-export/pkg/names"
	"dev/bravebird/mar-export/pkg/operator"
)

var (
	consolidateNames    string
	consolidateExpected int
	consolidateFuzzy    float64
)

func init() {
	consolidateCmd.Flags().StringVar(&consolidateNames, "names", "", "Master names file with Location Name and Region columns. Defaults to the configured names file.")
	consolidateCmd.Flags().IntVar(&consolidateExpected, "expected", 0, "Number of downloaded reports expected. A different count is reported as a warning.")
	consolidateCmd.Flags().Float64Var(&consolidateFuzzy, "fuzzy", -1, "Jaro-Winkler threshold for care services without an exact match. Defaults to the config.")
	rootCmd.AddCommand(consolidateCmd)
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [dir]",
	Short: "Merges the downloaded MAR CSVs of a directory into one file with a Region column.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.DownloadDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("no directory given and no download_dir configured")
		}

		namesFile := cfg.NamesFile
		if consolidateNames != "" {
			namesFile = consolidateNames
		}
		fuzzy := cfg.FuzzyThreshold
		if consolidateFuzzy >= 0 {
			fuzzy = consolidateFuzzy
		}

		a := newApp(cfg)
		lookup := consolidate.RegionLookup{}
		if namesFile != "" {
			table, err := names.Load(namesFile)
			if err != nil {
				a.logger.Warn("Proceeding without region mapping", "file", namesFile, "error", err)
			} else {
				lookup = consolidate.BuildRegionLookup(table)
			}
		}

		res, err := consolidate.Consolidate(dir, lookup, consolidate.Options{
			ExpectedFiles:  consolidateExpected,
			FuzzyThreshold: fuzzy,
			Logger:         a.logger,
		})
		if err != nil {
			return err
		}
		operator.RenderConsolidation(a.out, res)
		return nil
	},
}
