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

// CreateCredentialRequest is the JSON body for POST /api/credentials.
type CreateCredentialRequest struct {
	Provider forage.Provider `json:"provider"`
	Name     string          `json:"name"`
	APIKey   string          `json:"api_key,omitempty"`
}

// UpdateCredentialRequest is the JSON body for PUT /api/credentials/{id}.
type UpdateCredentialRequest struct {
	Name   *string `json:"name,omitempty"`
	APIKey *string `json:"api_key,omitempty"`
}

// handleListCredentials returns all credentials. API keys are never
// included in the response.
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "credential store not configured")
		return
	}

	records, err := s.credentials.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	// Return empty array instead of null
	if records == nil {
		records = []CredentialRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// handleGetCredential returns a single credential by ID.
func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "credential store not configured")
		return
	}

	id := r.PathValue("id")
	rec, ok, err := s.credentials.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("credential %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateCredential creates a new credential.
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "credential store not configured")
		return
	}

	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "provider is required")
		return
	}
	if !s.registry.Has(req.Provider) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("provider %q is not registered", req.Provider))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}

	now := time.Now().UTC()
	status := CredentialStatusUnconfigured
	if req.APIKey != "" {
		status = CredentialStatusConfigured
	}

	rec := CredentialRecord{
		ID:        uuid.New().String(),
		Provider:  req.Provider,
		Name:      req.Name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.credentials.Create(r.Context(), rec); err != nil {
		if errors.Is(err, ErrCredentialExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("credential %q already exists", rec.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	// Store the key separately so it never rides in the record payload.
	if req.APIKey != "" {
		if err := s.credentials.SetAPIKey(r.Context(), rec.ID, req.APIKey); err != nil {
			s.logger.Warn("failed to store API key", "credential_id", rec.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdateCredential updates an existing credential.
func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "credential store not configured")
		return
	}

	id := r.PathValue("id")
	rec, ok, err := s.credentials.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("credential %q not found", id))
		return
	}

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if req.Name != nil {
		rec.Name = *req.Name
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.credentials.Update(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	if req.APIKey != nil {
		if err := s.credentials.SetAPIKey(r.Context(), rec.ID, *req.APIKey); err != nil {
			s.logger.Warn("failed to update API key", "credential_id", rec.ID, "error", err)
		}
		if *req.APIKey != "" {
			rec.Status = CredentialStatusConfigured
		} else {
			rec.Status = CredentialStatusUnconfigured
		}
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteCredential deletes a credential by ID.
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "credential store not configured")
		return
	}

	id := r.PathValue("id")
	if err := s.credentials.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("credential %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
