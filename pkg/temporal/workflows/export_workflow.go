package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/models"
)

const (
	// TaskQueue is the default queue of the export worker
	TaskQueue = "mar-export"
	// ProgressQuery answers models.ExportProgress
	ProgressQuery = "getProgress"

	// ErrSessionNotFound is the application error type for a browser
	// session that no longer exists on the worker.
	ErrSessionNotFound = "SessionNotFound"
	// ErrLoginFailed is the application error type for credentials or
	// sign-in pages that retrying cannot fix.
	ErrLoginFailed = "LoginFailed"
)

// ExportInput starts a chunked export. The workflow ID is the run ID.
type ExportInput struct {
	Checkpoint      models.Checkpoint `json:"checkpoint"`
	TargetURL       string            `json:"target_url"`
	CredentialsFile string            `json:"credentials_file"`
	FromDate        string            `json:"from_date,omitempty"` // DD/MM/YYYY, empty for the default range
	ToDate          string            `json:"to_date,omitempty"`
	Headless        bool              `json:"headless"`
	DownloadDir     string            `json:"download_dir,omitempty"`
	FuzzyThreshold  float64           `json:"fuzzy_threshold,omitempty"`
	KeepSelections  bool              `json:"keep_selections,omitempty"`
	ChunkTimeout    time.Duration     `json:"chunk_timeout,omitempty"`
	RetryAttempts   int               `json:"retry_attempts,omitempty"`
}

// StartSessionInput launches a browser and signs in
type StartSessionInput struct {
	RunID           string            `json:"run_id"`
	Checkpoint      models.Checkpoint `json:"checkpoint"`
	TargetURL       string            `json:"target_url"`
	CredentialsFile string            `json:"credentials_file"`
	FromDate        string            `json:"from_date,omitempty"`
	ToDate          string            `json:"to_date,omitempty"`
	Headless        bool              `json:"headless"`
	DownloadDir     string            `json:"download_dir,omitempty"`
}

// Session identifies a browser held by the worker
type Session struct {
	SessionID string `json:"session_id"`
	PageURL   string `json:"page_url"`
}

// ChunkInput selects one chunk and generates its report
type ChunkInput struct {
	SessionID string       `json:"session_id"`
	RunID     string       `json:"run_id"`
	Num       int          `json:"num"`
	Total     int          `json:"total"`
	Chunk     models.Chunk `json:"chunk"`
	Clear     bool         `json:"clear"`
}

// ConsolidateInput merges the run's downloads
type ConsolidateInput struct {
	RunID          string  `json:"run_id"`
	DownloadDir    string  `json:"download_dir"`
	NamesFile      string  `json:"names_file"`
	ExpectedFiles  int     `json:"expected_files"`
	FuzzyThreshold float64 `json:"fuzzy_threshold,omitempty"`
}

// ConsolidateOutput describes the merged file
type ConsolidateOutput struct {
	OutputPath string `json:"output_path"`
	Rows       int    `json:"rows"`
	Warning    string `json:"warning,omitempty"`
}

// FinishRunInput records the final status of a run
type FinishRunInput struct {
	RunID        string           `json:"run_id"`
	Status       models.RunStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// ChunkedExportWorkflow selects each remaining chunk of the checkpoint in a
// worker-held browser, generates and downloads its report, and merges the
// downloads. A failed chunk is recorded and the run moves on.
func ChunkedExportWorkflow(ctx workflow.Context, input ExportInput) (models.ExportProgress, error) {
	logger := workflow.GetLogger(ctx)
	cp := input.Checkpoint
	logger.Info("Starting chunked export workflow", "runID", cp.RunID, "from", cp.CurrentChunk, "total", cp.TotalChunks)

	progress := models.ExportProgress{
		RunID:        cp.RunID,
		Status:       models.StatusRunning,
		CurrentChunk: cp.CurrentChunk,
		TotalChunks:  cp.TotalChunks,
		Chunks:       make([]models.ChunkResult, 0, len(cp.Remaining())),
	}

	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.ExportProgress, error) {
		return progress, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	retries := input.RetryAttempts
	if retries <= 0 {
		retries = 3
	}
	chunkTimeout := input.ChunkTimeout
	if chunkTimeout <= 0 {
		chunkTimeout = 30 * time.Minute
	}

	sessionCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        int32(retries),
			NonRetryableErrorTypes: []string{ErrLoginFailed},
		},
	})
	chunkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: chunkTimeout,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        2,
			NonRetryableErrorTypes: []string{ErrSessionNotFound},
		},
	})

	finish := func(status models.RunStatus, msg string) {
		progress.Status = status
		progress.ErrorMessage = msg
		dctx, _ := workflow.NewDisconnectedContext(sessionCtx)
		if err := workflow.ExecuteActivity(dctx, "FinishRunActivity", FinishRunInput{
			RunID:        cp.RunID,
			Status:       status,
			ErrorMessage: msg,
		}).Get(dctx, nil); err != nil {
			logger.Warn("Failed to record run status", "error", err)
		}
	}

	if err := chunking.Validate(&cp); err != nil {
		logger.Error("Invalid checkpoint", "error", err)
		finish(models.StatusFailed, "Invalid checkpoint: "+err.Error())
		return progress, nil
	}

	var session Session
	err = workflow.ExecuteActivity(sessionCtx, "StartSessionActivity", StartSessionInput{
		RunID:           cp.RunID,
		Checkpoint:      cp,
		TargetURL:       input.TargetURL,
		CredentialsFile: input.CredentialsFile,
		FromDate:        input.FromDate,
		ToDate:          input.ToDate,
		Headless:        input.Headless,
		DownloadDir:     input.DownloadDir,
	}).Get(ctx, &session)
	if err != nil {
		finish(models.StatusFailed, "Failed to start browser session: "+err.Error())
		return progress, nil
	}

	defer func() {
		// Cleanup runs on a disconnected context so cancellation still closes the browser
		dctx, _ := workflow.NewDisconnectedContext(sessionCtx)
		_ = workflow.ExecuteActivity(dctx, "CloseSessionActivity", session.SessionID).Get(dctx, nil)
	}()

	failedChunks := 0
	for num := cp.CurrentChunk; num <= cp.TotalChunks; num++ {
		chunk := cp.Chunks[num-1]
		progress.CurrentChunk = num
		logger.Info("Processing chunk", "chunk", num, "total", cp.TotalChunks, "size", chunk.Size)

		var result models.ChunkResult
		err := workflow.ExecuteActivity(chunkCtx, "ProcessChunkActivity", ChunkInput{
			SessionID: session.SessionID,
			RunID:     cp.RunID,
			Num:       num,
			Total:     cp.TotalChunks,
			Chunk:     chunk,
			Clear:     !input.KeepSelections,
		}).Get(ctx, &result)

		if err != nil {
			if temporal.IsCanceledError(err) || ctx.Err() != nil {
				finish(models.StatusCanceled, err.Error())
				return progress, nil
			}
			logger.Warn("Chunk failed", "chunk", num, "error", err)
			failedChunks++
			result = models.ChunkResult{
				ChunkNum:    num,
				TotalChunks: cp.TotalChunks,
				Size:        chunk.Size,
				Failed:      chunk.Items,
				Report: models.ReportOutcome{
					Status:       models.ReportFailed,
					ErrorMessage: err.Error(),
				},
			}
		}
		progress.Chunks = append(progress.Chunks, result)
	}
	progress.CurrentChunk = cp.TotalChunks + 1

	if input.DownloadDir != "" {
		downloads := 0
		for _, c := range progress.Chunks {
			if c.Report.Status == models.ReportGenerated {
				downloads++
			}
		}
		if downloads > 0 {
			var merged ConsolidateOutput
			err := workflow.ExecuteActivity(sessionCtx, "ConsolidateActivity", ConsolidateInput{
				RunID:          cp.RunID,
				DownloadDir:    input.DownloadDir,
				NamesFile:      cp.FilePath,
				ExpectedFiles:  downloads,
				FuzzyThreshold: input.FuzzyThreshold,
			}).Get(ctx, &merged)
			if err != nil {
				logger.Warn("Consolidation failed", "error", err)
			} else {
				progress.MergedFile = merged.OutputPath
			}
		}
	}

	if n := len(progress.Chunks); n > 0 && failedChunks == n {
		finish(models.StatusFailed, fmt.Sprintf("all %d chunks failed", n))
	} else {
		finish(models.StatusSuccess, "")
	}

	logger.Info("Workflow completed", "status", progress.Status, "chunks", len(progress.Chunks), "failedChunks", failedChunks)
	return progress, nil
}
