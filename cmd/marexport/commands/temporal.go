package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/config"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/operator"
	"dev/bravebird/mar-export/pkg/portal"
	"dev/bravebird/mar-export/pkg/temporal/workflows"
)

// dialTemporal connects to the configured Temporal service
func dialTemporal(c config.Config) (client.Client, error) {
	tc, err := client.Dial(client.Options{
		HostPort:  c.Temporal.Host,
		Namespace: c.Temporal.Namespace,
		Logger:    log.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}
	return tc, nil
}

// runOnTemporal plans an automatic chunked run locally and hands it to the
// worker. The local checkpoint is kept until the workflow finishes.
func (a *app) runOnTemporal(ctx context.Context) error {
	all, column, table, err := a.loadNames()
	if err != nil {
		return err
	}

	tc, err := dialTemporal(a.cfg)
	if err != nil {
		return err
	}
	defer tc.Close()

	store := chunking.NewFileStore(a.cfg.ProgressFile)
	cp, err := store.Load()
	if err != nil {
		return err
	}
	if cp != nil && !cp.Done() {
		if err := chunking.Validate(cp); err != nil {
			return fmt.Errorf("progress file %s: %w", a.cfg.ProgressFile, err)
		}
		switch a.term.AskResume(ctx, cp) {
		case operator.ResumeRun:
			cp.Mode = models.ModeAuto
		case operator.StartNewRun:
			cp = nil
		default:
			a.term.Println("Cancelled.")
			return nil
		}
	} else {
		cp = nil
	}
	if cp == nil {
		if cp, err = a.planRun(ctx, models.ModeAuto, all, column, table); err != nil || cp == nil {
			return err
		}
	}
	if err := store.Save(cp); err != nil {
		a.logger.Warn("Failed to save progress", "error", err)
	}

	dates, err := a.term.ChooseDateRange(ctx, portal.DefaultDateRange(time.Now()))
	if err != nil {
		return err
	}

	input := workflows.ExportInput{
		Checkpoint:      *cp,
		TargetURL:       a.cfg.TargetURL,
		CredentialsFile: a.cfg.CredentialsFile,
		FromDate:        dates.From,
		ToDate:          dates.To,
		Headless:        a.cfg.Headless,
		DownloadDir:     a.cfg.DownloadDir,
		FuzzyThreshold:  a.cfg.FuzzyThreshold,
		KeepSelections:  a.cfg.KeepSelections,
	}
	a.serveStatus(ctx, tc)

	we, err := tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        cp.RunID,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}, workflows.ChunkedExportWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	a.logger.Info("Started export workflow", "workflowID", we.GetID(), "runID", we.GetRunID(), "chunks", cp.TotalChunks, "filter", describeRegion(cp.RegionFilter))
	a.term.Printf("Workflow %s started, waiting for it to finish...\n", we.GetID())

	var progress models.ExportProgress
	if err := we.Get(ctx, &progress); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}

	summary := &models.RunSummary{RunID: progress.RunID, Status: progress.Status, ErrorMessage: progress.ErrorMessage}
	for _, c := range progress.Chunks {
		summary.Add(c)
	}
	operator.RenderSummary(a.out, summary)
	if progress.MergedFile != "" {
		a.term.Printf("Consolidated report: %s\n", progress.MergedFile)
	}

	if progress.Status != models.StatusCanceled {
		if err := store.Clear(); err != nil {
			a.logger.Warn("Failed to clear progress file", "error", err)
		}
	}
	if progress.Status == models.StatusFailed {
		return fmt.Errorf("export failed: %s", progress.ErrorMessage)
	}
	return nil
}
