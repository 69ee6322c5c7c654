package chunking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/models"
)

// History records runs and chunk results
type History interface {
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	CreateRun(ctx context.Context, run *models.RunRecord) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
	RecordChunk(ctx context.Context, chunk *models.ChunkRecord) error
}

// DownloadWaiter pauses a manual run while the operator downloads the
// chunk's report by hand. next is nil after the last chunk.
type DownloadWaiter interface {
	AwaitReportDownload(ctx context.Context, num, total int, next *models.Chunk) error
}

// Runner drives a checkpointed run chunk by chunk
type Runner struct {
	Selector  Selector
	Processor Processor
	Store     CheckpointStore

	// Optional collaborators
	History  History
	Events   Publisher
	Download DownloadWaiter

	// ClearBetweenChunks empties the dropdown before each chunk so every
	// report covers exactly one chunk.
	ClearBetweenChunks bool
	ChunkDelay         time.Duration
	Logger             logging.Logger
}

// Run processes chunks CurrentChunk..TotalChunks. The checkpoint is saved
// after every chunk and cleared once all chunks are done. When ctx is
// canceled the run stops between names and the checkpoint is kept, pointing
// at the interrupted chunk.
func (r *Runner) Run(ctx context.Context, cp *models.Checkpoint) (*models.RunSummary, error) {
	logger := logging.OrDefault(r.Logger)
	if err := Validate(cp); err != nil {
		return nil, err
	}

	summary := &models.RunSummary{RunID: cp.RunID, Status: models.StatusRunning}
	r.startHistory(ctx, cp, logger)
	r.emit(cp, models.EventRunStarted, 0, "", fmt.Sprintf("starting at chunk %d of %d", cp.CurrentChunk, cp.TotalChunks))

	logger.Info("Starting chunk processing", "runID", cp.RunID, "mode", cp.Mode, "from", cp.CurrentChunk, "total", cp.TotalChunks)

	for !cp.Done() {
		num := cp.CurrentChunk
		chunk := cp.Chunks[num-1]

		if err := ctx.Err(); err != nil {
			return r.stop(ctx, cp, summary, models.StatusCanceled, err, logger)
		}

		logger.Info("Starting chunk", "chunk", num, "total", cp.TotalChunks, "start", chunk.StartIndex, "end", chunk.EndIndex, "size", chunk.Size)
		r.emit(cp, models.EventChunkStarted, num, "", "")

		if r.ClearBetweenChunks {
			if anchor, ok := r.Selector.Probe(ctx); ok {
				logger.Info("Clearing previous selections", "anchor", anchor)
				if !r.Selector.ClearAll(ctx) {
					logger.Warn("Selections may not be fully cleared", "chunk", num)
				}
			}
		}

		result := r.Processor.Process(ctx, Job{RunID: cp.RunID, Num: num, Total: cp.TotalChunks, Chunk: chunk})
		if err := ctx.Err(); err != nil {
			return r.stop(ctx, cp, summary, models.StatusCanceled, err, logger)
		}

		summary.Add(result)
		cp.CurrentChunk = num + 1
		if err := r.Store.Save(cp); err != nil {
			logger.Warn("Failed to save progress", "error", err)
		}
		r.recordChunk(ctx, cp.RunID, result, logger)

		logger.Info("Chunk complete",
			"chunk", num,
			"total", cp.TotalChunks,
			"selected", result.Selected,
			"failed", len(result.Failed),
			"report", result.Report.Status,
		)
		r.emit(cp, models.EventChunkDone, num, "", fmt.Sprintf("%d/%d selected", result.Selected, result.Size))

		if r.Download != nil {
			var next *models.Chunk
			if num < cp.TotalChunks {
				next = &cp.Chunks[num]
			}
			if err := r.Download.AwaitReportDownload(ctx, num, cp.TotalChunks, next); err != nil {
				return r.stop(ctx, cp, summary, models.StatusCanceled, err, logger)
			}
		}

		if !cp.Done() {
			if err := sleep(ctx, r.ChunkDelay); err != nil {
				return r.stop(ctx, cp, summary, models.StatusCanceled, err, logger)
			}
		}
	}

	if err := r.Store.Clear(); err != nil {
		logger.Warn("Failed to clear progress file", "error", err)
	}
	summary.Status = models.StatusSuccess
	r.finishHistory(ctx, cp.RunID, models.StatusSuccess, "", logger)
	r.emit(cp, models.EventRunDone, 0, "", fmt.Sprintf("%d selected, %d failed", summary.TotalSelected, summary.TotalFailed))

	logger.Info("Chunking complete",
		"chunks", len(summary.Chunks),
		"selected", summary.TotalSelected,
		"failed", summary.TotalFailed,
		"successfulReports", summary.SuccessfulReports,
		"failedReports", summary.FailedReports,
	)
	return summary, nil
}

func (r *Runner) stop(ctx context.Context, cp *models.Checkpoint, summary *models.RunSummary, status models.RunStatus, cause error, logger logging.Logger) (*models.RunSummary, error) {
	summary.Status = status
	summary.ErrorMessage = cause.Error()
	logger.Warn("Run stopped, progress kept for resume", "nextChunk", cp.CurrentChunk, "error", cause)
	// Status is recorded on a fresh context: ctx is usually the reason we stopped.
	r.finishHistory(context.WithoutCancel(ctx), cp.RunID, status, cause.Error(), logger)
	r.emit(cp, models.EventRunDone, 0, "", "stopped: "+cause.Error())
	return summary, cause
}

func (r *Runner) startHistory(ctx context.Context, cp *models.Checkpoint, logger logging.Logger) {
	if r.History == nil {
		return
	}
	existing, err := r.History.GetRun(ctx, cp.RunID)
	if err != nil {
		logger.Warn("Failed to read run history", "error", err)
		return
	}
	if existing != nil {
		if err := r.History.UpdateRunStatus(ctx, cp.RunID, models.StatusRunning, ""); err != nil {
			logger.Warn("Failed to update run history", "error", err)
		}
		return
	}

	run := &models.RunRecord{
		ID:          cp.RunID,
		Mode:        cp.Mode,
		FilePath:    cp.FilePath,
		TotalItems:  cp.TotalItems,
		ChunkSize:   cp.ChunkSize,
		TotalChunks: cp.TotalChunks,
		Status:      models.StatusRunning,
		StartedAt:   cp.StartedAt,
	}
	if cp.RegionFilter != nil {
		run.RegionFilter = *cp.RegionFilter
	}
	if err := r.History.CreateRun(ctx, run); err != nil {
		logger.Warn("Failed to record run", "error", err)
	}
}

func (r *Runner) recordChunk(ctx context.Context, runID string, result models.ChunkResult, logger logging.Logger) {
	if r.History == nil {
		return
	}
	rec := &models.ChunkRecord{
		ID:           uuid.New().String(),
		RunID:        runID,
		ChunkNum:     result.ChunkNum,
		Size:         result.Size,
		Selected:     result.Selected,
		Failed:       result.Failed,
		ReportStatus: result.Report.Status,
		DownloadPath: result.Report.DownloadPath,
		CompletedAt:  time.Now(),
		Duration:     result.Duration,
	}
	if err := r.History.RecordChunk(ctx, rec); err != nil {
		logger.Warn("Failed to record chunk", "chunk", result.ChunkNum, "error", err)
	}
}

func (r *Runner) finishHistory(ctx context.Context, runID string, status models.RunStatus, msg string, logger logging.Logger) {
	if r.History == nil {
		return
	}
	if err := r.History.UpdateRunStatus(ctx, runID, status, msg); err != nil {
		logger.Warn("Failed to update run history", "error", err)
	}
}

func (r *Runner) emit(cp *models.Checkpoint, typ models.EventType, num int, name, msg string) {
	publish(r.Events, Job{RunID: cp.RunID, Num: num, Total: cp.TotalChunks}, typ, name, msg)
}
