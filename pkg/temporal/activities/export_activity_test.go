package activities

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/temporal/workflows"
)

type memHistory struct {
	runs     map[string]*models.RunRecord
	statuses []models.RunStatus
	chunks   []*models.ChunkRecord
}

func newMemHistory() *memHistory {
	return &memHistory{runs: map[string]*models.RunRecord{}}
}

func (h *memHistory) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	return h.runs[id], nil
}

func (h *memHistory) CreateRun(ctx context.Context, run *models.RunRecord) error {
	h.runs[run.ID] = run
	return nil
}

func (h *memHistory) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, msg string) error {
	h.statuses = append(h.statuses, status)
	if run, ok := h.runs[id]; ok {
		run.Status = status
		run.ErrorMessage = msg
	}
	return nil
}

func (h *memHistory) RecordChunk(ctx context.Context, rec *models.ChunkRecord) error {
	h.chunks = append(h.chunks, rec)
	return nil
}

func newEnv(t *testing.T, acts *Activities) *testsuite.TestActivityEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)
	return env
}

func TestConsolidateActivity(t *testing.T) {
	dir := t.TempDir()
	namesFile := filepath.Join(t.TempDir(), "locations.csv")
	require.NoError(t, os.WriteFile(namesFile, []byte("Location Name,Region\nOak,North\nPine,South\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk1.csv"), []byte("Resident,Care Service\nAnn,Oak\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk2.csv"), []byte("Resident,Care Service\nBob,Pine\nCat,Elm\n"), 0644))

	acts := NewActivities("", "", nil)
	acts.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	env := newEnv(t, acts)

	val, err := env.ExecuteActivity(acts.ConsolidateActivity, workflows.ConsolidateInput{
		RunID:         "run-1",
		DownloadDir:   dir,
		NamesFile:     namesFile,
		ExpectedFiles: 2,
	})
	require.NoError(t, err)

	var out workflows.ConsolidateOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, 3, out.Rows)
	require.Empty(t, out.Warning)
	require.Equal(t, "Consolidated_MAR_Report_20250102_030405.csv", filepath.Base(out.OutputPath))

	merged, err := os.ReadFile(out.OutputPath)
	require.NoError(t, err)
	require.Contains(t, string(merged), "Ann,Oak,North")
	require.Contains(t, string(merged), "Bob,Pine,South")
}

func TestConsolidateActivityWithoutNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk1.csv"), []byte("Resident,Care Service\nAnn,Oak\n"), 0644))

	acts := NewActivities("", "", nil)
	env := newEnv(t, acts)

	val, err := env.ExecuteActivity(acts.ConsolidateActivity, workflows.ConsolidateInput{
		DownloadDir:   dir,
		NamesFile:     filepath.Join(dir, "missing.csv"),
		ExpectedFiles: 2,
	})
	require.NoError(t, err)

	var out workflows.ConsolidateOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, 1, out.Rows)
	require.NotEmpty(t, out.Warning)
}

func TestConsolidateActivityEmptyDir(t *testing.T) {
	acts := NewActivities("", "", nil)
	env := newEnv(t, acts)

	_, err := env.ExecuteActivity(acts.ConsolidateActivity, workflows.ConsolidateInput{DownloadDir: t.TempDir()})
	require.Error(t, err)
}

func TestProcessChunkUnknownSession(t *testing.T) {
	acts := NewActivities("", "", nil)
	env := newEnv(t, acts)

	_, err := env.ExecuteActivity(acts.ProcessChunkActivity, workflows.ChunkInput{
		SessionID: "missing",
		Num:       1,
		Total:     1,
		Chunk:     models.Chunk{Items: []string{"Oak"}, StartIndex: 1, EndIndex: 1, Size: 1},
	})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, workflows.ErrSessionNotFound, appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestStartSessionMissingCredentials(t *testing.T) {
	history := newMemHistory()
	acts := NewActivities("", "", history)
	env := newEnv(t, acts)

	_, err := env.ExecuteActivity(acts.StartSessionActivity, workflows.StartSessionInput{
		RunID:           "run-1",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.txt"),
	})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, workflows.ErrLoginFailed, appErr.Type())
	require.Empty(t, history.runs)
	require.Equal(t, 0, acts.Pool.Len())
}

func TestFinishRunActivity(t *testing.T) {
	history := newMemHistory()
	history.runs["run-1"] = &models.RunRecord{ID: "run-1", Status: models.StatusRunning}
	acts := NewActivities("", "", history)
	env := newEnv(t, acts)

	_, err := env.ExecuteActivity(acts.FinishRunActivity, workflows.FinishRunInput{
		RunID:        "run-1",
		Status:       models.StatusFailed,
		ErrorMessage: "all 2 chunks failed",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, history.runs["run-1"].Status)
	require.Equal(t, "all 2 chunks failed", history.runs["run-1"].ErrorMessage)

	// Without history the activity is a no-op
	plain := NewActivities("", "", nil)
	_, err = newEnv(t, plain).ExecuteActivity(plain.FinishRunActivity, workflows.FinishRunInput{RunID: "x", Status: models.StatusSuccess})
	require.NoError(t, err)
}

func TestCloseUnknownSession(t *testing.T) {
	acts := NewActivities("", "", nil)
	env := newEnv(t, acts)

	_, err := env.ExecuteActivity(acts.CloseSessionActivity, "never-opened")
	require.NoError(t, err)
}

func TestRecordRunResumesExisting(t *testing.T) {
	history := newMemHistory()
	history.runs["run-1"] = &models.RunRecord{ID: "run-1", Status: models.StatusCanceled}
	acts := NewActivities("", "", history)

	region := "North"
	in := workflows.StartSessionInput{
		RunID: "run-2",
		Checkpoint: models.Checkpoint{
			RunID:        "run-2",
			FilePath:     "locations.csv",
			TotalItems:   3,
			ChunkSize:    2,
			TotalChunks:  2,
			RegionFilter: &region,
		},
	}
	env := newEnv(t, acts)
	env.SetTestTimeout(5 * time.Second)

	// recordRun needs an activity context for its logger
	env.RegisterActivityWithOptions(func(ctx context.Context) error {
		acts.recordRun(ctx, in)
		in.RunID = "run-1"
		acts.recordRun(ctx, in)
		return nil
	}, activity.RegisterOptions{Name: "RecordRun"})
	_, err := env.ExecuteActivity("RecordRun")
	require.NoError(t, err)

	require.Equal(t, "North", history.runs["run-2"].RegionFilter)
	require.Equal(t, models.StatusRunning, history.runs["run-2"].Status)
	require.Equal(t, 2, history.runs["run-2"].TotalChunks)
	require.Equal(t, models.StatusRunning, history.runs["run-1"].Status)
	require.Equal(t, []models.RunStatus{models.StatusRunning}, history.statuses)
}
