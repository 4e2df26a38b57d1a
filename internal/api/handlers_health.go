package api

import (
	"net/http"
)

// ServiceCheck is the status of one dependency.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	Store       ServiceCheck `json:"store"`
	Experiments int          `json:"experiments"`
}

type HealthHandler struct {
	repo    ProgressRepository
	catalog Catalog
}

func NewHealthHandler(repo ProgressRepository, catalog Catalog) *HealthHandler {
	return &HealthHandler{repo: repo, catalog: catalog}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Store:       ServiceCheck{Status: "ok"},
		Experiments: len(h.catalog.List()),
	}
	if _, err := h.repo.Summaries(r.Context()); err != nil {
		resp.Store = ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
