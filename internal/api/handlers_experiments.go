package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chemlab/internal/experiment"
)

// ExperimentSummary is one row of GET /experiments.
type ExperimentSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Steps  int    `json:"steps"`
	Source string `json:"source"`
}

// ExperimentHandler serves the experiment catalog.
type ExperimentHandler struct {
	catalog Catalog
}

// NewExperimentHandler creates a new experiment handler.
func NewExperimentHandler(catalog Catalog) *ExperimentHandler {
	return &ExperimentHandler{catalog: catalog}
}

// List handles GET /experiments
func (h *ExperimentHandler) List(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.List()
	out := make([]ExperimentSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, ExperimentSummary{
			ID:     d.ID,
			Title:  d.Title,
			Steps:  len(d.Steps),
			Source: h.catalog.Source(d.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": out,
		"count":       len(out),
	})
}

// Get handles GET /experiments/{id}
func (h *ExperimentHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.Get(chi.URLParam(r, "id"))
	if errors.Is(err, experiment.ErrUnknownExperiment) {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}
