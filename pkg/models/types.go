package models

import (
	"time"
)

// ==================== Chunk Types ====================

// Chunk is a contiguous slice of the name list with 1-based inclusive bounds
type Chunk struct {
	Items      []string `json:"items"`
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	Size       int      `json:"size"`
}

// RunMode selects how chunks are driven
type RunMode string

const (
	ModeManual RunMode = "manual" // Operator downloads each chunk's report
	ModeAuto   RunMode = "auto"   // Report generated and downloaded per chunk
)

// Checkpoint is the persisted progress of a chunked run
type Checkpoint struct {
	RunID        string    `json:"run_id"`
	Mode         RunMode   `json:"mode"`
	FilePath     string    `json:"file_path"`
	ColumnName   string    `json:"column_name"`
	TotalItems   int       `json:"total_items"`
	ChunkSize    int       `json:"chunk_size"`
	TotalChunks  int       `json:"total_chunks"`
	CurrentChunk int       `json:"current_chunk"` // 1-based, next chunk to process
	RegionFilter *string   `json:"region_filter"`
	Chunks       []Chunk   `json:"chunks"`
	Names        []string  `json:"names"`
	StartedAt    time.Time `json:"started_at"`
}

// Done reports whether every chunk has been processed
func (c *Checkpoint) Done() bool {
	return c.CurrentChunk > c.TotalChunks
}

// Remaining returns the chunks still to process, numbered from CurrentChunk
func (c *Checkpoint) Remaining() []Chunk {
	if c.CurrentChunk < 1 || c.CurrentChunk > len(c.Chunks) {
		return nil
	}
	return c.Chunks[c.CurrentChunk-1:]
}

// ==================== Result Types ====================

// ReportStatus is the outcome of the report/export driver
type ReportStatus string

const (
	ReportNotRequested ReportStatus = "not_requested"
	ReportGenerated    ReportStatus = "generated"  // CSV link clicked (and download finished when tracked)
	ReportNoRecords    ReportStatus = "no_records" // Portal reported no records, nothing to download
	ReportFailed       ReportStatus = "failed"
)

// ReportOutcome describes what happened when a report was requested
type ReportOutcome struct {
	Status       ReportStatus `json:"status"`
	DownloadPath string       `json:"download_path,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// Succeeded is true for generated reports and empty ones
func (r ReportOutcome) Succeeded() bool {
	return r.Status == ReportGenerated || r.Status == ReportNoRecords
}

// ChunkResult summarizes a processed chunk
type ChunkResult struct {
	ChunkNum    int           `json:"chunk_num"`
	TotalChunks int           `json:"total_chunks"`
	Size        int           `json:"size"`
	Selected    int           `json:"selected"`
	Failed      []string      `json:"failed,omitempty"`
	SelectedAll bool          `json:"selected_all,omitempty"` // Select All shortcut used
	Report      ReportOutcome `json:"report"`
	Duration    int64         `json:"duration_ms"`
}

// RunSummary aggregates a whole chunked run
type RunSummary struct {
	RunID             string        `json:"run_id"`
	Status            RunStatus     `json:"status"`
	Chunks            []ChunkResult `json:"chunks"`
	TotalSelected     int           `json:"total_selected"`
	TotalFailed       int           `json:"total_failed"`
	SuccessfulReports int           `json:"successful_reports"`
	FailedReports     int           `json:"failed_reports"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// Add folds a chunk result into the summary
func (s *RunSummary) Add(r ChunkResult) {
	s.Chunks = append(s.Chunks, r)
	s.TotalSelected += r.Selected
	s.TotalFailed += len(r.Failed)
	switch {
	case r.Report.Status == ReportNotRequested:
	case r.Report.Succeeded():
		s.SuccessfulReports++
	default:
		s.FailedReports++
	}
}

// ==================== Run History Types ====================

// RunStatus represents the status of a run
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// RunRecord is a stored chunked run
type RunRecord struct {
	ID           string     `json:"id" db:"id"`
	Mode         RunMode    `json:"mode" db:"mode"`
	FilePath     string     `json:"file_path" db:"file_path"`
	RegionFilter string     `json:"region_filter,omitempty" db:"region_filter"`
	TotalItems   int        `json:"total_items" db:"total_items"`
	ChunkSize    int        `json:"chunk_size" db:"chunk_size"`
	TotalChunks  int        `json:"total_chunks" db:"total_chunks"`
	Status       RunStatus  `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// ChunkRecord is a stored chunk result
type ChunkRecord struct {
	ID           string       `json:"id" db:"id"`
	RunID        string       `json:"run_id" db:"run_id"`
	ChunkNum     int          `json:"chunk_num" db:"chunk_num"`
	Size         int          `json:"size" db:"size"`
	Selected     int          `json:"selected" db:"selected"`
	Failed       []string     `json:"failed,omitempty" db:"failed"`
	ReportStatus ReportStatus `json:"report_status" db:"report_status"`
	DownloadPath string       `json:"download_path,omitempty" db:"download_path"`
	CompletedAt  time.Time    `json:"completed_at" db:"completed_at"`
	Duration     int64        `json:"duration_ms" db:"duration_ms"`
}

// ==================== Progress Event Types ====================

// EventType names a progress event
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventChunkStarted EventType = "chunk_started"
	EventSelected     EventType = "selected"
	EventSelectFailed EventType = "select_failed"
	EventReport       EventType = "report"
	EventChunkDone    EventType = "chunk_done"
	EventRunDone      EventType = "run_done"
)

// ProgressEvent is streamed to status API subscribers
type ProgressEvent struct {
	RunID       string    `json:"run_id"`
	Type        EventType `json:"type"`
	ChunkNum    int       `json:"chunk_num,omitempty"`
	TotalChunks int       `json:"total_chunks,omitempty"`
	Name        string    `json:"name,omitempty"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time"`
}

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ==================== Workflow Types ====================

// ExportProgress is the state of a chunked export workflow, returned by its
// getProgress query.
type ExportProgress struct {
	RunID        string        `json:"run_id"`
	Status       RunStatus     `json:"status"`
	CurrentChunk int           `json:"current_chunk"`
	TotalChunks  int           `json:"total_chunks"`
	Chunks       []ChunkResult `json:"chunks"`
	MergedFile   string        `json:"merged_file,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
