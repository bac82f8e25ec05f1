package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/copseworks/forage"
)

// CreateScheduleRequest is the JSON body for POST /api/schedules.
type CreateScheduleRequest struct {
	Provider     forage.Provider `json:"provider"`
	Method       string          `json:"method,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	CredentialID string          `json:"credential_id,omitempty"`
	Cron         string          `json:"cron"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// UpdateScheduleRequest is the JSON body for PUT /api/schedules/{id}.
type UpdateScheduleRequest struct {
	Method       *string         `json:"method,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	CredentialID *string         `json:"credential_id,omitempty"`
	Cron         *string         `json:"cron,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// handleListSchedules returns all fetch schedules.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schedule store not configured")
		return
	}

	schedules, err := s.schedules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if schedules == nil {
		schedules = []FetchSchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// handleGetSchedule returns a single schedule by ID.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schedule store not configured")
		return
	}

	id := r.PathValue("id")
	schedule, ok, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// handleCreateSchedule creates a new fetch schedule. The arguments are
// validated against the provider contract before the schedule is stored
// so a broken schedule never reaches the runner.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schedule store not configured")
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	contract, ok := s.registry.Lookup(req.Provider)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("provider %q is not registered", req.Provider))
		return
	}

	if err := validateScheduleArguments(contract, req.Arguments); err != nil {
		s.recordValidationFailure(r.Context(), contract.Provider, err)
		writeContractError(w, err)
		return
	}

	now := time.Now().UTC()
	nextRunAt, err := nextScheduleRun(req.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule := FetchSchedule{
		ID:           uuid.New().String(),
		Provider:     req.Provider,
		Method:       req.Method,
		Arguments:    req.Arguments,
		CredentialID: req.CredentialID,
		Cron:         req.Cron,
		Enabled:      enabled,
		NextRunAt:    nextRunAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.schedules.Create(r.Context(), schedule); err != nil {
		if errors.Is(err, ErrScheduleExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("schedule %q already exists", schedule.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, schedule)
}

// handleUpdateSchedule applies partial updates to a schedule.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schedule store not configured")
		return
	}

	id := r.PathValue("id")
	schedule, ok, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if req.Method != nil {
		schedule.Method = *req.Method
	}
	if len(req.Arguments) > 0 {
		contract, ok := s.registry.Lookup(schedule.Provider)
		if !ok {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("provider %q is not registered", schedule.Provider))
			return
		}
		if err := validateScheduleArguments(contract, req.Arguments); err != nil {
			s.recordValidationFailure(r.Context(), contract.Provider, err)
			writeContractError(w, err)
			return
		}
		schedule.Arguments = req.Arguments
	}
	if req.CredentialID != nil {
		schedule.CredentialID = *req.CredentialID
	}
	now := time.Now().UTC()
	if req.Cron != nil {
		nextRunAt, err := nextScheduleRun(*req.Cron, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		schedule.Cron = *req.Cron
		schedule.NextRunAt = nextRunAt
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}
	schedule.UpdatedAt = now

	if err := s.schedules.Update(r.Context(), schedule); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// handleDeleteSchedule deletes a schedule by ID.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schedule store not configured")
		return
	}

	id := r.PathValue("id")
	if err := s.schedules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateScheduleArguments(contract forage.Contract, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	args := contract.NewArguments()
	if err := json.Unmarshal(raw, args); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	args.ApplyDefaults()
	return args.Validate()
}
