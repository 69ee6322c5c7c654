package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/models"
)

var _ chunking.History = (*DB)(nil)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRuns(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	missing, err := db.GetRun(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	older := &models.RunRecord{ID: "run-1", Mode: models.ModeManual, FilePath: "a.csv", TotalItems: 10, ChunkSize: 5, TotalChunks: 2, Status: models.StatusRunning, StartedAt: started.Add(-time.Hour)}
	newer := &models.RunRecord{ID: "run-2", Mode: models.ModeAuto, FilePath: "b.xlsx", RegionFilter: "North", TotalItems: 3, ChunkSize: 50, TotalChunks: 1, Status: models.StatusRunning, StartedAt: started}
	require.NoError(t, db.CreateRun(ctx, older))
	require.NoError(t, db.CreateRun(ctx, newer))
	require.Error(t, db.CreateRun(ctx, newer), "duplicate id")

	got, err := db.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, models.ModeAuto, got.Mode)
	require.Equal(t, "North", got.RegionFilter)
	require.True(t, started.Equal(got.StartedAt))
	require.Nil(t, got.CompletedAt)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)

	runs, err = db.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestUpdateRunStatus(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	require.NoError(t, db.CreateRun(ctx, &models.RunRecord{ID: "run-1", Mode: models.ModeAuto, Status: models.StatusRunning}))

	require.NoError(t, db.UpdateRunStatus(ctx, "run-1", models.StatusCanceled, "context canceled"))
	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCanceled, run.Status)
	require.Equal(t, "context canceled", run.ErrorMessage)
	require.NotNil(t, run.CompletedAt)

	// resumed
	require.NoError(t, db.UpdateRunStatus(ctx, "run-1", models.StatusRunning, ""))
	run, err = db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Nil(t, run.CompletedAt)
	require.Empty(t, run.ErrorMessage)
}

func TestChunks(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	done := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.RecordChunk(ctx, &models.ChunkRecord{ID: "c2", RunID: "run-1", ChunkNum: 2, Size: 1, Selected: 1, ReportStatus: models.ReportNoRecords, CompletedAt: done}))
	require.NoError(t, db.RecordChunk(ctx, &models.ChunkRecord{ID: "c1", RunID: "run-1", ChunkNum: 1, Size: 3, Selected: 1, Failed: []string{"Elm", "Pine"}, ReportStatus: models.ReportGenerated, DownloadPath: "/out/mar.csv", CompletedAt: done, Duration: 1500}))
	require.NoError(t, db.RecordChunk(ctx, &models.ChunkRecord{ID: "other", RunID: "run-2", ChunkNum: 1, Size: 1, ReportStatus: models.ReportFailed}))

	chunks, err := db.GetChunks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, 1, chunks[0].ChunkNum)
	require.Equal(t, []string{"Elm", "Pine"}, chunks[0].Failed)
	require.Equal(t, "/out/mar.csv", chunks[0].DownloadPath)
	require.Equal(t, int64(1500), chunks[0].Duration)
	require.True(t, done.Equal(chunks[0].CompletedAt))
	require.Nil(t, chunks[1].Failed)

	// a redone chunk replaces the earlier result
	require.NoError(t, db.RecordChunk(ctx, &models.ChunkRecord{ID: "c1-redo", RunID: "run-1", ChunkNum: 1, Size: 3, Selected: 3, ReportStatus: models.ReportGenerated}))
	chunks, err = db.GetChunks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "c1-redo", chunks[0].ID)
	require.Equal(t, 3, chunks[0].Selected)
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestGetChunksCorruptFailedNames(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	require.NoError(t, db.RecordChunk(ctx, &models.ChunkRecord{ID: "c1", RunID: "run-1", ChunkNum: 1, Size: 2, Selected: 1, Failed: []string{"Oak"}, ReportStatus: models.ReportGenerated}))
	_, err := db.conn.ExecContext(ctx, `UPDATE export_chunks SET failed = ? WHERE id = ?`, "not json", "c1")
	require.NoError(t, err)

	chunks, err := db.GetChunks(ctx, "run-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chunk 1")
	require.Nil(t, chunks)
}
