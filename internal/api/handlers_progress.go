package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chemlab/internal/progress"
	"chemlab/internal/store"
)

// ProgressHandler handles progress persistence requests.
type ProgressHandler struct {
	repo   ProgressRepository
	clock  func() time.Time
	logger *zap.Logger
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(repo ProgressRepository, clock func() time.Time, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{repo: repo, clock: clock, logger: logger}
}

// Report handles POST /progress
func (h *ProgressHandler) Report(w http.ResponseWriter, r *http.Request) {
	var rec progress.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if rec.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if rec.ExperimentID == "" {
		writeError(w, http.StatusBadRequest, "experiment_id is required")
		return
	}
	if rec.ProgressPercentage < 0 || rec.ProgressPercentage > 100 {
		writeError(w, http.StatusBadRequest, "progress_percentage must be between 0 and 100")
		return
	}
	if rec.CurrentStep < 0 {
		writeError(w, http.StatusBadRequest, "current_step must not be negative")
		return
	}
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = h.clock().UTC()
	}

	if err := h.repo.Report(r.Context(), rec); err != nil {
		h.logger.Error("failed to store progress",
			zap.String("session", rec.SessionID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store progress: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// List handles GET /progress
func (h *ProgressHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, store.Filter{ExperimentID: r.URL.Query().Get("experiment")})
}

// ListExperiment handles GET /progress/{experimentID}
func (h *ProgressHandler) ListExperiment(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, store.Filter{ExperimentID: chi.URLParam(r, "experimentID")})
}

func (h *ProgressHandler) list(w http.ResponseWriter, r *http.Request, f store.Filter) {
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	sessions, err := h.repo.Sessions(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Session handles GET /progress/sessions/{sessionID}
func (h *ProgressHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// History handles GET /progress/sessions/{sessionID}/history
func (h *ProgressHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.repo.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get history: "+err.Error())
		return
	}
	if len(hist) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": hist,
		"count":   len(hist),
	})
}
