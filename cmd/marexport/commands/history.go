package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dev/bravebird/mar-export/pkg/database"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/operator"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "How many recent runs to list.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Lists recent runs, or the chunk results of one run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		a := newApp(cfg)
		ctx := cmd.Context()
		if len(args) == 0 {
			runs, err := db.ListRuns(ctx, historyLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				a.term.Println("No runs recorded yet.")
				return nil
			}
			operator.RenderRuns(a.out, runs)
			return nil
		}

		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		chunks, err := db.GetChunks(ctx, run.ID)
		if err != nil {
			return err
		}
		operator.RenderRuns(a.out, []models.RunRecord{*run})
		if run.ErrorMessage != "" {
			a.term.Printf("Error: %s\n", run.ErrorMessage)
		}
		operator.RenderChunkRecords(a.out, chunks)
		return nil
	},
}
