package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/consolidate"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/names"
	"dev/bravebird/mar-export/pkg/operator"
)

var (
	runTemporal   bool
	runStatusAddr string
)

func init() {
	runCmd.Flags().BoolVar(&runTemporal, "temporal", false, "Hand automatic chunked runs to the Temporal worker instead of driving a local browser.")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "Serve the status API on this address while running, e.g. :8080.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--temporal] [--status-addr <addr>]",
	Short: "Signs in to the portal and offers the selection and chunked export menu.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runStatusAddr != "" {
			cfg.StatusAddr = runStatusAddr
		}
		a := newApp(cfg)
		a.openHistory()
		defer a.close()

		if runTemporal {
			return guard(a.logger, func() error { return a.runOnTemporal(cmd.Context()) })
		}
		return guard(a.logger, func() error { return a.runInteractive(cmd.Context()) })
	},
}

// runInteractive is the operator menu loop over one signed-in browser
func (a *app) runInteractive(ctx context.Context) error {
	all, column, table, err := a.loadNames()
	if err != nil {
		return err
	}
	store := chunking.NewFileStore(a.cfg.ProgressFile)
	cp, err := store.Load()
	if err != nil {
		return err
	}
	resumable := cp != nil && !cp.Done()
	a.keepDownloads = resumable

	if err := a.start(ctx); err != nil {
		return err
	}
	a.serveStatus(ctx, nil)

	if resumable {
		switch a.term.AskResume(ctx, cp) {
		case operator.ResumeRun:
			next, err := a.runChunks(ctx, store, cp, table)
			if err != nil || next == operator.NextQuit {
				return err
			}
			if next == operator.NextNewRun {
				if next, err = a.chunkedLoop(ctx, store, cp.Mode, all, column, table); err != nil || next == operator.NextQuit {
					return err
				}
			}
		case operator.StartNewRun:
			if err := store.Clear(); err != nil {
				return err
			}
		default:
			a.term.Println("Cancelled.")
			return nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch a.term.MainMenu(ctx, len(all)) {
		case operator.MenuSelectAllNames:
			a.term.Println("Using all locations")
			a.selectNames(ctx, all)
		case operator.MenuRegionFilter:
			a.selectNames(ctx, a.filterRegion(ctx, all, column, table))
		case operator.MenuDropdownSelectAll:
			a.dropdownSelectAll(ctx, all)
		case operator.MenuManualChunks:
			next, err := a.chunkedLoop(ctx, store, models.ModeManual, all, column, table)
			if err != nil || next == operator.NextQuit {
				return err
			}
		case operator.MenuAutoChunks:
			next, err := a.chunkedLoop(ctx, store, models.ModeAuto, all, column, table)
			if err != nil || next == operator.NextQuit {
				return err
			}
		default:
			a.term.Println("Ending script...")
			return nil
		}
	}
}

// filterRegion asks for a region and returns its names, or all when no
// region is chosen.
func (a *app) filterRegion(ctx context.Context, all []string, column string, table *names.Table) []string {
	region := a.term.AskRegion(ctx, table.Regions())
	if region == nil {
		return all
	}
	filtered := table.NamesInRegion(column, *region)
	a.term.Printf("Filtered to %d locations in %s\n", len(filtered), *region)
	return filtered
}

// selectNames selects every name in one pass and offers the report
func (a *app) selectNames(ctx context.Context, list []string) {
	a.term.Printf("Final list: %d names to process\n", len(list))
	a.term.Println("First 5 names in your list:")
	for i, name := range list {
		if i == 5 {
			break
		}
		a.term.Printf("  %d. '%s'\n", i+1, name)
	}
	if !a.term.Confirm(ctx, "Do these names look correct?") {
		a.term.Println("Please check your selection and try again.")
		return
	}
	if !a.term.Confirm(ctx, "Ready to start automated selections?") {
		a.term.Println("Selection cancelled.")
		return
	}

	chunk := models.Chunk{Items: list, StartIndex: 1, EndIndex: len(list), Size: len(list)}
	proc := &chunking.AutoProcessor{
		Selector:    a.engine,
		Events:      a.hub,
		SelectDelay: chunking.DefaultSelectDelay,
		Logger:      a.logger,
	}
	result := proc.Process(ctx, chunking.Job{Num: 1, Total: 1, Chunk: chunk})
	if ctx.Err() != nil {
		return
	}
	if len(list) > 0 {
		a.term.Printf("Success rate: %.1f%%\n", float64(result.Selected)/float64(len(list))*100)
	}

	result.Report = a.offerReport(ctx)
	summary := &models.RunSummary{Status: models.StatusSuccess}
	summary.Add(result)
	operator.RenderSummary(a.out, summary)
}

// dropdownSelectAll uses the menu's Select All entry and falls back to
// selecting names one by one.
func (a *app) dropdownSelectAll(ctx context.Context, all []string) {
	a.term.Println("Using dropdown 'Select All' to select all items...")
	if !a.engine.SelectAll(ctx) {
		a.term.Println("Select All failed. Falling back to individual selection method.")
		a.selectNames(ctx, all)
		return
	}
	a.term.Println("All items selected successfully using dropdown 'Select All'!")
	a.offerReport(ctx)
}

// offerReport generates the report for the current selections when the
// operator asks for it, then waits for the operator to finish with it.
func (a *app) offerReport(ctx context.Context) models.ReportOutcome {
	outcome := models.ReportOutcome{Status: models.ReportNotRequested}
	if a.term.AskAutoReport(ctx) {
		a.term.Println("Generating report automatically...")
		outcome = a.reporter.Generate(ctx)
		if outcome.Succeeded() {
			a.term.Println("Report generated successfully!")
		} else {
			a.term.Println("Report generation failed. You may need to generate manually.")
		}
	} else {
		a.term.Println("You can now generate your report manually in the browser.")
	}
	if err := a.term.Pause(ctx, "Press Enter after you've finished with the report..."); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debug("Pause ended", "error", err)
	}
	return outcome
}

// chunkedLoop plans and runs chunked runs in mode until the operator
// leaves for the menu or quits.
func (a *app) chunkedLoop(ctx context.Context, store chunking.CheckpointStore, mode models.RunMode, all []string, column string, table *names.Table) (operator.NextAction, error) {
	for {
		cp, err := a.planRun(ctx, mode, all, column, table)
		if err != nil {
			return operator.NextQuit, err
		}
		if cp == nil {
			return operator.NextMainMenu, nil
		}
		next, err := a.runChunks(ctx, store, cp, table)
		if err != nil || next != operator.NextNewRun {
			return next, err
		}
	}
}

// planRun builds and confirms a new checkpoint. A nil checkpoint means the
// operator backed out.
func (a *app) planRun(ctx context.Context, mode models.RunMode, all []string, column string, table *names.Table) (*models.Checkpoint, error) {
	var region *string
	list := all
	if table.HasRegions() {
		if region = a.term.AskRegion(ctx, table.Regions()); region != nil {
			list = table.NamesInRegion(column, *region)
			a.term.Printf("Filtered to %d locations in %s\n", len(list), *region)
		}
	}
	if len(list) == 0 {
		a.term.Println("No names to process.")
		return nil, nil
	}

	size := a.term.AskChunkSize(ctx, len(list), a.cfg.ChunkSize)
	cp, err := chunking.NewCheckpoint(mode, a.cfg.NamesFile, column, list, size, region, time.Now())
	if err != nil {
		return nil, err
	}
	operator.RenderPlan(a.out, cp.Chunks)

	prompt := "Proceed with chunked processing?"
	if mode == models.ModeAuto {
		prompt = "Proceed with AUTOMATED chunked processing?"
	}
	if !a.term.Confirm(ctx, prompt) {
		a.term.Println("Chunked processing cancelled.")
		return nil, nil
	}
	return cp, nil
}

// runChunks drives cp to completion and asks what to do next
func (a *app) runChunks(ctx context.Context, store chunking.CheckpointStore, cp *models.Checkpoint, table *names.Table) (operator.NextAction, error) {
	if err := store.Save(cp); err != nil {
		a.logger.Warn("Failed to save progress", "error", err)
	}

	runner := &chunking.Runner{
		Selector:           a.engine,
		Store:              store,
		History:            a.history,
		Events:             a.hub,
		ClearBetweenChunks: !a.cfg.KeepSelections,
		ChunkDelay:         a.cfg.ChunkDelay(),
		Logger:             a.logger,
	}
	switch cp.Mode {
	case models.ModeAuto:
		runner.Processor = &chunking.AutoProcessor{
			Selector:    a.engine,
			Reporter:    a.reporter,
			Events:      a.hub,
			SelectDelay: chunking.DefaultSelectDelay,
			Logger:      a.logger,
		}
	default:
		runner.Processor = &chunking.InteractiveProcessor{
			Selector:    a.engine,
			Handler:     a.term,
			Events:      a.hub,
			SelectDelay: chunking.DefaultSelectDelay,
			MaxFailures: chunking.MaxConsecutiveFailures,
			Logger:      a.logger,
		}
		runner.Download = a.term
	}

	summary, err := runner.Run(ctx, cp)
	if summary != nil {
		operator.RenderSummary(a.out, summary)
	}
	if err != nil {
		if ctx.Err() != nil {
			a.term.Printf("Stopped. Progress saved to %s, run again to resume at chunk %d.\n", a.cfg.ProgressFile, cp.CurrentChunk)
		}
		return operator.NextQuit, err
	}

	if cp.Mode == models.ModeAuto {
		a.consolidateRun(summary, cp, table)
	} else {
		a.term.Printf("You should now have %d separate report files\n", cp.TotalChunks)
	}
	return a.term.AskNext(ctx), nil
}

// consolidateRun merges the run's downloads with region data
func (a *app) consolidateRun(summary *models.RunSummary, cp *models.Checkpoint, table *names.Table) {
	if a.cfg.DownloadDir == "" {
		return
	}
	downloads := 0
	for _, c := range summary.Chunks {
		if c.Report.Status == models.ReportGenerated {
			downloads++
		}
	}
	if downloads == 0 {
		a.term.Println("No reports were downloaded, nothing to consolidate.")
		return
	}

	if table == nil || cp.FilePath != a.cfg.NamesFile {
		loaded, err := names.Load(cp.FilePath)
		if err != nil {
			a.logger.Warn("Proceeding without region mapping", "file", cp.FilePath, "error", err)
		}
		table = loaded
	}
	res, err := consolidate.Consolidate(a.cfg.DownloadDir, consolidate.BuildRegionLookup(table), consolidate.Options{
		ExpectedFiles:  downloads,
		FuzzyThreshold: a.cfg.FuzzyThreshold,
		Logger:         a.logger,
	})
	if err != nil {
		a.logger.Error("Consolidation failed", "error", err)
		return
	}
	operator.RenderConsolidation(a.out, res)
	a.term.Printf("You should now have a consolidated report and %d report files downloaded\n", downloads)
}

// describeRegion formats an optional region filter
func describeRegion(region *string) string {
	if region == nil {
		return "all regions"
	}
	return fmt.Sprintf("region %s", *region)
}
