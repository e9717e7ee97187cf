// Package httptransport exposes the operational HTTP surface of the audit
// pipeline: queue statistics, a manual processing trigger and health.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/audit"
)

// Processor triggers a sweep of pending audit logs.
type Processor interface {
	Process(ctx context.Context) error
	ProcessTx(ctx context.Context, txID string) error
}

// Stats reports queue statistics.
type Stats interface {
	Statistics() audit.Statistics
}

// Handler wires audit endpoints to the queue and processor.
type Handler struct {
	processor Processor
	stats     Stats
	logger    *slog.Logger
}

// New constructs the handler with its dependencies.
func New(processor Processor, stats Stats, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		stats:     stats,
		logger:    logger,
	}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/statistics", h.HandleStatistics)
	r.Post("/audit/process", h.HandleProcess)
}

// HandleStatistics handles GET /statistics requests.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Statistics())
}

// HandleProcess handles POST /audit/process requests. With a txId query
// parameter only that transaction's pending rows are processed, otherwise a
// full sweep runs.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := r.URL.Query().Get("txId")

	var err error
	if txID != "" {
		err = h.processor.ProcessTx(ctx, txID)
	} else {
		err = h.processor.Process(ctx)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "manual audit processing failed",
			"tx_id", txID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
