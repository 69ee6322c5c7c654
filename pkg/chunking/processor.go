package chunking

import (
	"context"
	"time"

	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/models"
)

// Selector is the dropdown surface the processors drive
type Selector interface {
	Probe(ctx context.Context) (string, bool)
	Select(ctx context.Context, name string) bool
	SelectAll(ctx context.Context) bool
	ClearAll(ctx context.Context) bool
}

// Reporter generates and exports the report for the current selection
type Reporter interface {
	Generate(ctx context.Context) models.ReportOutcome
}

// Publisher receives progress events. Publish must not block.
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// FailureAction is the operator's answer to repeated selection failures
type FailureAction int

const (
	ActionContinue      FailureAction = 1 // keep trying names one by one
	ActionSkipRemaining FailureAction = 2 // record the rest of the chunk as failed
	ActionSelectAll     FailureAction = 3 // select everything through the menu
)

// FailureHandler decides what to do after repeated selection failures
type FailureHandler interface {
	OnConsecutiveFailures(ctx context.Context, count int) FailureAction
}

// Job is one chunk handed to a processor
type Job struct {
	RunID string
	Num   int
	Total int
	Chunk models.Chunk
}

// Processor selects a chunk's names and reports what happened
type Processor interface {
	Process(ctx context.Context, job Job) models.ChunkResult
}

// MaxConsecutiveFailures triggers the operator prompt in interactive mode
const MaxConsecutiveFailures = 3

// DefaultSelectDelay separates consecutive selections
const DefaultSelectDelay = 80 * time.Millisecond

// InteractiveProcessor selects names one by one and lets the operator step
// in when selections keep failing. The report is left to the operator.
type InteractiveProcessor struct {
	Selector    Selector
	Handler     FailureHandler
	Events      Publisher
	SelectDelay time.Duration
	MaxFailures int
	Logger      logging.Logger
}

func (p *InteractiveProcessor) Process(ctx context.Context, job Job) models.ChunkResult {
	logger := logging.OrDefault(p.Logger)
	maxFailures := p.MaxFailures
	if maxFailures <= 0 {
		maxFailures = MaxConsecutiveFailures
	}

	started := time.Now()
	result := newResult(job)
	items := job.Chunk.Items
	consecutive := 0

	for i := 0; i < len(items); i++ {
		if ctx.Err() != nil {
			break
		}

		if consecutive >= maxFailures && p.Handler != nil {
			logger.Warn("Consecutive selection failures", "count", consecutive, "chunk", job.Num)
			switch p.Handler.OnConsecutiveFailures(ctx, consecutive) {
			case ActionSkipRemaining:
				logger.Info("Skipping remaining items in chunk", "chunk", job.Num, "skipped", len(items)-i)
				result.Failed = append(result.Failed, items[i:]...)
				result.Duration = time.Since(started).Milliseconds()
				return result
			case ActionSelectAll:
				if p.Selector.SelectAll(ctx) {
					logger.Info("Select All completed, assuming remaining items were selected", "remaining", len(items)-i)
					result.Selected += len(items) - i
					result.SelectedAll = true
					result.Duration = time.Since(started).Milliseconds()
					return result
				}
				logger.Warn("Select All failed, continuing with individual selection")
			}
			consecutive = 0
		}

		name := items[i]
		logger.Info("Selecting", "index", i+1, "size", len(items), "name", name)
		if p.Selector.Select(ctx, name) {
			result.Selected++
			consecutive = 0
			publish(p.Events, job, models.EventSelected, name, "")
		} else {
			result.Failed = append(result.Failed, name)
			consecutive++
			publish(p.Events, job, models.EventSelectFailed, name, "")
		}

		if i < len(items)-1 {
			if err := sleep(ctx, p.SelectDelay); err != nil {
				break
			}
		}
	}

	result.Duration = time.Since(started).Milliseconds()
	return result
}

// AutoProcessor selects every name without prompting, then generates and
// exports the chunk's report.
type AutoProcessor struct {
	Selector    Selector
	Reporter    Reporter
	Events      Publisher
	SelectDelay time.Duration
	Logger      logging.Logger
}

func (p *AutoProcessor) Process(ctx context.Context, job Job) models.ChunkResult {
	logger := logging.OrDefault(p.Logger)
	started := time.Now()
	result := newResult(job)
	items := job.Chunk.Items

	for i, name := range items {
		if ctx.Err() != nil {
			result.Duration = time.Since(started).Milliseconds()
			return result
		}
		logger.Info("Selecting", "index", i+1, "size", len(items), "name", name)
		if p.Selector.Select(ctx, name) {
			result.Selected++
			publish(p.Events, job, models.EventSelected, name, "")
		} else {
			result.Failed = append(result.Failed, name)
			publish(p.Events, job, models.EventSelectFailed, name, "")
		}
		if i < len(items)-1 {
			if err := sleep(ctx, p.SelectDelay); err != nil {
				result.Duration = time.Since(started).Milliseconds()
				return result
			}
		}
	}

	logger.Info("Chunk selection complete", "chunk", job.Num, "selected", result.Selected, "size", job.Chunk.Size, "failed", len(result.Failed))

	if p.Reporter != nil {
		logger.Info("Auto-generating report", "chunk", job.Num)
		result.Report = p.Reporter.Generate(ctx)
		publish(p.Events, job, models.EventReport, "", string(result.Report.Status))
	}

	result.Duration = time.Since(started).Milliseconds()
	return result
}

func newResult(job Job) models.ChunkResult {
	return models.ChunkResult{
		ChunkNum:    job.Num,
		TotalChunks: job.Total,
		Size:        job.Chunk.Size,
		Report:      models.ReportOutcome{Status: models.ReportNotRequested},
	}
}

func publish(pub Publisher, job Job, typ models.EventType, name, msg string) {
	if pub == nil {
		return
	}
	pub.Publish(models.ProgressEvent{
		RunID:       job.RunID,
		Type:        typ,
		ChunkNum:    job.Num,
		TotalChunks: job.Total,
		Name:        name,
		Message:     msg,
		Time:        time.Now(),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
