package activities

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/mar-export/pkg/browser"
	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/config"
	"dev/bravebird/mar-export/pkg/consolidate"
	"dev/bravebird/mar-export/pkg/dropdown"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/names"
	"dev/bravebird/mar-export/pkg/portal"
	"dev/bravebird/mar-export/pkg/temporal/workflows"
)

// SessionPool holds the worker's browser sessions
type SessionPool struct {
	sessions map[string]*sessionData
	mu       sync.RWMutex
}

// sessionData is one signed-in browser. mu serializes chunks on it.
type sessionData struct {
	mu        sync.Mutex
	session   *browser.Session
	engine    *dropdown.Engine
	reporter  *portal.Reporter
	createdAt time.Time
}

// NewSessionPool creates an empty pool
func NewSessionPool() *SessionPool {
	return &SessionPool{sessions: make(map[string]*sessionData)}
}

func (p *SessionPool) get(id string) (*sessionData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *SessionPool) put(s *sessionData) string {
	id := uuid.New().String()
	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()
	return id
}

func (p *SessionPool) remove(id string) (*sessionData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	return s, ok
}

// Len counts open sessions
func (p *SessionPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Activities holds activity implementations
type Activities struct {
	ChromeBin     string
	ScreenshotDir string
	// History is optional run history written as chunks complete
	History chunking.History
	Pool    *SessionPool
	Now     func() time.Time
}

// NewActivities creates activities with an empty session pool
func NewActivities(chromeBin, screenshotDir string, history chunking.History) *Activities {
	return &Activities{
		ChromeBin:     chromeBin,
		ScreenshotDir: screenshotDir,
		History:       history,
		Pool:          NewSessionPool(),
		Now:           time.Now,
	}
}

// StartSessionActivity launches a browser, signs in, opens the MAR report
// and sets its date range. It also records the run in history.
func (a *Activities) StartSessionActivity(ctx context.Context, in workflows.StartSessionInput) (workflows.Session, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Initializing browser session", "runID", in.RunID, "headless", in.Headless)

	creds, err := config.LoadCredentials(in.CredentialsFile)
	if err != nil {
		return workflows.Session{}, temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrLoginFailed, err)
	}

	a.recordRun(ctx, in)

	sess, err := browser.Launch(ctx, browser.Options{
		Headless:      in.Headless,
		ChromeBin:     a.ChromeBin,
		DownloadDir:   in.DownloadDir,
		ScreenshotDir: a.ScreenshotDir,
	}, logger)
	if err != nil {
		return workflows.Session{}, err
	}

	page := sess.DOM()
	nav := portal.NewNavigator(page, nil, sess, portal.DefaultNavigatorOptions(), logger)
	if err := nav.Login(ctx, in.TargetURL, creds); err != nil {
		sess.Close()
		return workflows.Session{}, fmt.Errorf("failed to sign in: %w", err)
	}

	dates := portal.DefaultDateRange(a.now())
	if in.FromDate != "" {
		dates.From = in.FromDate
	}
	if in.ToDate != "" {
		dates.To = in.ToDate
	}
	if err := dates.Validate(); err != nil {
		sess.Close()
		return workflows.Session{}, temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrLoginFailed, err)
	}
	if err := nav.SetDateRange(ctx, dates); err != nil {
		sess.Close()
		return workflows.Session{}, fmt.Errorf("failed to set date range: %w", err)
	}

	id := a.Pool.put(&sessionData{
		session:   sess,
		engine:    dropdown.New(page, dropdown.DefaultOptions(), logger, nil),
		reporter:  portal.NewReporter(page, sess.Downloads(), sess, portal.DefaultReportTimeouts(), logger),
		createdAt: a.now(),
	})

	logger.Info("Browser session created", "sessionID", id)
	return workflows.Session{SessionID: id, PageURL: page.URL()}, nil
}

func (a *Activities) recordRun(ctx context.Context, in workflows.StartSessionInput) {
	if a.History == nil {
		return
	}
	logger := activity.GetLogger(ctx)
	existing, err := a.History.GetRun(ctx, in.RunID)
	if err != nil {
		logger.Warn("Failed to read run history", "error", err)
		return
	}
	if existing != nil {
		if err := a.History.UpdateRunStatus(ctx, in.RunID, models.StatusRunning, ""); err != nil {
			logger.Warn("Failed to update run history", "error", err)
		}
		return
	}
	cp := in.Checkpoint
	run := &models.RunRecord{
		ID:          in.RunID,
		Mode:        models.ModeAuto,
		FilePath:    cp.FilePath,
		TotalItems:  cp.TotalItems,
		ChunkSize:   cp.ChunkSize,
		TotalChunks: cp.TotalChunks,
		Status:      models.StatusRunning,
		StartedAt:   a.now(),
	}
	if cp.RegionFilter != nil {
		run.RegionFilter = *cp.RegionFilter
	}
	if err := a.History.CreateRun(ctx, run); err != nil {
		logger.Warn("Failed to record run", "error", err)
	}
}

// ProcessChunkActivity clears the dropdown, selects every name of the
// chunk and generates its report.
func (a *Activities) ProcessChunkActivity(ctx context.Context, in workflows.ChunkInput) (models.ChunkResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Processing chunk", "sessionID", in.SessionID, "chunk", in.Num, "total", in.Total, "size", in.Chunk.Size)

	sd, ok := a.Pool.get(in.SessionID)
	if !ok {
		return models.ChunkResult{}, temporal.NewNonRetryableApplicationError("browser session not found", workflows.ErrSessionNotFound, nil)
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()

	engine := sd.engine.WithLogger(logger)
	if in.Clear {
		if anchor, ok := engine.Probe(ctx); ok {
			logger.Info("Clearing previous selections", "anchor", anchor)
			if !engine.ClearAll(ctx) {
				logger.Warn("Selections may not be fully cleared", "chunk", in.Num)
			}
		}
	}

	proc := &chunking.AutoProcessor{
		Selector:    engine,
		Reporter:    sd.reporter.WithLogger(logger),
		Events:      heartbeat{ctx: ctx},
		SelectDelay: chunking.DefaultSelectDelay,
		Logger:      logger,
	}
	result := proc.Process(ctx, chunking.Job{RunID: in.RunID, Num: in.Num, Total: in.Total, Chunk: in.Chunk})
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if a.History != nil {
		rec := &models.ChunkRecord{
			ID:           uuid.New().String(),
			RunID:        in.RunID,
			ChunkNum:     result.ChunkNum,
			Size:         result.Size,
			Selected:     result.Selected,
			Failed:       result.Failed,
			ReportStatus: result.Report.Status,
			DownloadPath: result.Report.DownloadPath,
			CompletedAt:  a.now(),
			Duration:     result.Duration,
		}
		if err := a.History.RecordChunk(ctx, rec); err != nil {
			logger.Warn("Failed to record chunk", "chunk", in.Num, "error", err)
		}
	}

	logger.Info("Chunk complete", "chunk", in.Num, "selected", result.Selected, "failed", len(result.Failed), "report", result.Report.Status)
	return result, nil
}

// heartbeat reports selection progress to Temporal
type heartbeat struct {
	ctx context.Context
}

func (h heartbeat) Publish(ev models.ProgressEvent) {
	activity.RecordHeartbeat(h.ctx, ev.ChunkNum, string(ev.Type), ev.Name)
}

// ConsolidateActivity merges the downloaded CSVs with region data from the
// names file.
func (a *Activities) ConsolidateActivity(ctx context.Context, in workflows.ConsolidateInput) (workflows.ConsolidateOutput, error) {
	logger := activity.GetLogger(ctx)

	lookup := consolidate.RegionLookup{}
	if in.NamesFile != "" {
		table, err := names.Load(in.NamesFile)
		if err != nil {
			logger.Warn("Proceeding without region mapping", "file", in.NamesFile, "error", err)
		} else {
			lookup = consolidate.BuildRegionLookup(table)
		}
	}

	res, err := consolidate.Consolidate(in.DownloadDir, lookup, consolidate.Options{
		ExpectedFiles:  in.ExpectedFiles,
		FuzzyThreshold: in.FuzzyThreshold,
		Now:            a.now,
		Logger:         logger,
	})
	if err != nil {
		return workflows.ConsolidateOutput{}, fmt.Errorf("failed to consolidate: %w", err)
	}
	return workflows.ConsolidateOutput{OutputPath: res.OutputPath, Rows: res.Rows, Warning: res.Warning}, nil
}

// FinishRunActivity records the final run status in history
func (a *Activities) FinishRunActivity(ctx context.Context, in workflows.FinishRunInput) error {
	if a.History == nil {
		return nil
	}
	return a.History.UpdateRunStatus(ctx, in.RunID, in.Status, in.ErrorMessage)
}

// CloseSessionActivity closes a browser session
func (a *Activities) CloseSessionActivity(ctx context.Context, sessionID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Closing browser session", "sessionID", sessionID)

	sd, ok := a.Pool.remove(sessionID)
	if !ok {
		return nil // Already closed
	}
	return sd.session.Close()
}

func (a *Activities) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
