package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.temporal.io/sdk/converter"

	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/temporal/workflows"
)

// ProgressQueryType is the workflow query answering models.ExportProgress
const ProgressQueryType = workflows.ProgressQuery

// Store is the run history the API reads
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	GetChunks(ctx context.Context, runID string) ([]models.ChunkRecord, error)
}

// WorkflowQuerier queries running workflows. client.Client satisfies it.
type WorkflowQuerier interface {
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

// Handlers contains API handlers
type Handlers struct {
	db           Store
	hub          *Hub
	workflows    WorkflowQuerier
	upgrader     websocket.Upgrader
	pollInterval time.Duration
	logger       logging.Logger
}

// NewHandlers creates API handlers. Any dependency may be nil; the
// endpoints that need it answer 503.
func NewHandlers(db Store, hub *Hub, workflows WorkflowQuerier, logger logging.Logger) *Handlers {
	return &Handlers{
		db:        db,
		hub:       hub,
		workflows: workflows,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pollInterval: 500 * time.Millisecond,
		logger:       logging.OrDefault(logger),
	}
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==================== Run Handlers ====================

// ListRuns lists recent runs, newest first
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	respondJSON(w, runs)
}

// GetRun retrieves a run
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.db.GetRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	respondJSON(w, run)
}

// GetRunChunks lists a run's chunk results
func (h *Handlers) GetRunChunks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	chunks, err := h.db.GetChunks(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if chunks == nil {
		chunks = []models.ChunkRecord{}
	}
	respondJSON(w, chunks)
}

// GetRunProgress asks the export workflow for its live progress. The
// workflow ID is the run ID.
func (h *Handlers) GetRunProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.workflows == nil {
		http.Error(w, "Temporal not available", http.StatusServiceUnavailable)
		return
	}

	progress, err := h.queryProgress(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to query workflow: "+err.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, progress)
}

func (h *Handlers) queryProgress(ctx context.Context, id string) (*models.ExportProgress, error) {
	resp, err := h.workflows.QueryWorkflow(ctx, id, "", ProgressQueryType)
	if err != nil {
		return nil, err
	}
	var progress models.ExportProgress
	if err := resp.Get(&progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ==================== Streaming ====================

// StreamRunUpdates streams a run's progress over WebSocket. Events published
// in this process are forwarded as they happen; runs executing elsewhere are
// polled through the workflow query and the history store.
func (h *Handlers) StreamRunUpdates(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	h.stream(w, r, runID)
}

// StreamAll streams progress events of every in-process run
func (h *Handlers) StreamAll(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

func (h *Handlers) stream(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is only for noticing the client going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	var events <-chan models.ProgressEvent
	if h.hub != nil {
		ch, unsubscribe := h.hub.Subscribe(runID)
		defer unsubscribe()
		events = ch

		if ev, ok := h.hub.Last(runID); ok && runID != "" {
			if err := conn.WriteJSON(progressMessage(ev)); err != nil {
				return
			}
			if ev.Type == models.EventRunDone {
				return
			}
		}
	}

	var poll <-chan time.Time
	if runID != "" && (h.db != nil || h.workflows != nil) {
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	lastStatus := models.RunStatus("")
	lastChunks := -1

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(progressMessage(ev)); err != nil {
				h.logger.Debug("WebSocket write failed", "runID", runID, "error", err)
				return
			}
			if runID != "" && ev.Type == models.EventRunDone {
				return
			}

		case <-poll:
			status, chunks, payload := h.pollRun(ctx, runID)
			if status == "" || (status == lastStatus && chunks == lastChunks) {
				continue
			}
			if err := conn.WriteJSON(models.WSMessage{Type: "run_update", Payload: payload}); err != nil {
				return
			}
			lastStatus, lastChunks = status, chunks

			if terminal(status) {
				return
			}
		}
	}
}

// pollRun prefers the workflow query and falls back to the history store
func (h *Handlers) pollRun(ctx context.Context, runID string) (models.RunStatus, int, interface{}) {
	if h.workflows != nil {
		if progress, err := h.queryProgress(ctx, runID); err == nil && progress.Status != "" {
			return progress.Status, len(progress.Chunks), progress
		}
	}
	if h.db == nil {
		return "", 0, nil
	}
	run, err := h.db.GetRun(ctx, runID)
	if err != nil || run == nil {
		return "", 0, nil
	}
	chunks, _ := h.db.GetChunks(ctx, runID)
	return run.Status, len(chunks), map[string]interface{}{
		"run_id": runID,
		"status": run.Status,
		"chunks": chunks,
	}
}

func progressMessage(ev models.ProgressEvent) models.WSMessage {
	return models.WSMessage{Type: "progress", Payload: ev}
}

func terminal(status models.RunStatus) bool {
	return status == models.StatusSuccess || status == models.StatusFailed || status == models.StatusCanceled
}

// ==================== Helpers ====================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
