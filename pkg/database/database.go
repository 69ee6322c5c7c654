package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"dev/bravebird/mar-export/pkg/models"
)

// DB stores run history. Timestamps are unix milliseconds so the same
// queries work on MySQL and SQLite.
type DB struct {
	conn *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS export_runs (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		mode VARCHAR(16) NOT NULL,
		file_path TEXT NOT NULL,
		region_filter VARCHAR(255) NOT NULL DEFAULT '',
		total_items INT NOT NULL,
		chunk_size INT NOT NULL,
		total_chunks INT NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at BIGINT NOT NULL,
		completed_at BIGINT NULL,
		error_message TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS export_chunks (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL,
		chunk_num INT NOT NULL,
		size INT NOT NULL,
		selected INT NOT NULL,
		failed TEXT NOT NULL,
		report_status VARCHAR(16) NOT NULL,
		download_path TEXT NULL,
		completed_at BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		UNIQUE (run_id, chunk_num)
	)`,
}

// Open connects to driver ("mysql" or "sqlite") and creates the schema
func Open(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch driver {
	case "sqlite":
		// SQLite allows one writer; a single connection also keeps
		// :memory: databases alive across queries.
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	default:
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates missing tables
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func terminal(status models.RunStatus) bool {
	switch status {
	case models.StatusSuccess, models.StatusFailed, models.StatusCanceled:
		return true
	}
	return false
}

// ==================== Runs ====================

// CreateRun inserts a new run
func (db *DB) CreateRun(ctx context.Context, run *models.RunRecord) error {
	query := `
		INSERT INTO export_runs (id, mode, file_path, region_filter, total_items, chunk_size, total_chunks, status, started_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.FilePath,
		run.RegionFilter,
		run.TotalItems,
		run.ChunkSize,
		run.TotalChunks,
		run.Status,
		toMillis(run.StartedAt),
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, mode, file_path, region_filter, total_items, chunk_size, total_chunks,
		       status, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*models.RunRecord, error) {
	var (
		run         models.RunRecord
		startedAt   int64
		completedAt sql.NullInt64
		errorMsg    sql.NullString
	)
	err := s.Scan(
		&run.ID,
		&run.Mode,
		&run.FilePath,
		&run.RegionFilter,
		&run.TotalItems,
		&run.ChunkSize,
		&run.TotalChunks,
		&run.Status,
		&startedAt,
		&completedAt,
		&errorMsg,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		run.CompletedAt = &t
	}
	run.ErrorMessage = errorMsg.String
	return &run, nil
}

// GetRun retrieves a run by ID. A missing run is (nil, nil).
func (db *DB) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs WHERE id = ?`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus sets a run's status. Terminal statuses stamp completed_at;
// returning to running clears it.
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE export_runs
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt sql.NullInt64
	if terminal(status) {
		completedAt = sql.NullInt64{Int64: toMillis(time.Now()), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// ==================== Chunks ====================

// RecordChunk stores a chunk result, replacing an earlier result for the
// same chunk of the run.
func (db *DB) RecordChunk(ctx context.Context, chunk *models.ChunkRecord) error {
	failedJSON, err := json.Marshal(chunk.Failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed names: %w", err)
	}
	if chunk.CompletedAt.IsZero() {
		chunk.CompletedAt = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM export_chunks WHERE run_id = ? AND chunk_num = ?`, chunk.RunID, chunk.ChunkNum); err != nil {
		return fmt.Errorf("failed to replace chunk: %w", err)
	}

	query := `
		INSERT INTO export_chunks (id, run_id, chunk_num, size, selected, failed, report_status, download_path, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		chunk.ID,
		chunk.RunID,
		chunk.ChunkNum,
		chunk.Size,
		chunk.Selected,
		string(failedJSON),
		chunk.ReportStatus,
		chunk.DownloadPath,
		toMillis(chunk.CompletedAt),
		chunk.Duration,
	)
	if err != nil {
		return fmt.Errorf("failed to record chunk: %w", err)
	}
	return tx.Commit()
}

// GetChunks returns a run's chunk results in chunk order
func (db *DB) GetChunks(ctx context.Context, runID string) ([]models.ChunkRecord, error) {
	query := `
		SELECT id, run_id, chunk_num, size, selected, failed, report_status, download_path, completed_at, duration_ms
		FROM export_chunks
		WHERE run_id = ?
		ORDER BY chunk_num
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkRecord
	for rows.Next() {
		var (
			c            models.ChunkRecord
			failedJSON   string
			downloadPath sql.NullString
			completedAt  int64
		)
		err := rows.Scan(
			&c.ID,
			&c.RunID,
			&c.ChunkNum,
			&c.Size,
			&c.Selected,
			&failedJSON,
			&c.ReportStatus,
			&downloadPath,
			&completedAt,
			&c.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(failedJSON), &c.Failed); err != nil {
			return nil, fmt.Errorf("failed to decode failed names of chunk %d: %w", c.ChunkNum, err)
		}
		c.DownloadPath = downloadPath.String
		c.CompletedAt = fromMillis(completedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
