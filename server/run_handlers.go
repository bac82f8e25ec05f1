package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/copseworks/forage"
)

const defaultRunListLimit = 100

// handleListRuns returns fetch run history, newest first. Supports
// ?provider=, ?status=, and ?limit= query filters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "run store not configured")
		return
	}

	filter := RunListFilter{
		Provider: forage.Provider(r.URL.Query().Get("provider")),
		Status:   r.URL.Query().Get("status"),
		Limit:    defaultRunListLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	records, err := s.runs.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if records == nil {
		records = []FetchRunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetRun returns a single fetch run by ID.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "run store not configured")
		return
	}

	id := r.PathValue("run_id")
	rec, ok, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("run %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
