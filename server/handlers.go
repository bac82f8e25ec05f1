package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/copseworks/forage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListProviders returns all provider cards.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	contracts := s.registry.All()
	cards := make([]forage.ProviderCard, 0, len(contracts))
	for _, c := range contracts {
		cards = append(cards, c.Describe())
	}
	writeJSON(w, http.StatusOK, cards)
}

// handleGetProvider returns a single provider card by tag.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	contract, ok := s.lookupContract(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, contract.Describe())
}

// ValidateRequest is the JSON body for POST /api/providers/{provider}/validate.
type ValidateRequest struct {
	Setup     json.RawMessage `json:"setup,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ValidateResponse echoes the arguments with defaults applied.
type ValidateResponse struct {
	Valid     bool             `json:"valid"`
	Arguments forage.Arguments `json:"arguments,omitempty"`
}

// handleValidate checks a setup/arguments payload without dispatching.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	contract, ok := s.lookupContract(w, r)
	if !ok {
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if len(req.Setup) > 0 {
		setup := contract.NewSetup()
		if err := json.Unmarshal(req.Setup, setup); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
		if err := setup.Validate(); err != nil {
			s.recordValidationFailure(r.Context(), contract.Provider, err)
			writeContractError(w, err)
			return
		}
	}

	resp := ValidateResponse{Valid: true}
	if len(req.Arguments) > 0 {
		args := contract.NewArguments()
		if err := json.Unmarshal(req.Arguments, args); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
		args.ApplyDefaults()
		if err := args.Validate(); err != nil {
			s.recordValidationFailure(r.Context(), contract.Provider, err)
			writeContractError(w, err)
			return
		}
		resp.Arguments = args
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExecuteRequest is the JSON body for POST /api/providers/{provider}/execute.
// Credentials resolve in priority order: inline setup, stored credential
// (by ID, or the provider's first configured credential), environment.
type ExecuteRequest struct {
	Method       string          `json:"method,omitempty"`
	Setup        json.RawMessage `json:"setup,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	CredentialID string          `json:"credential_id,omitempty"`
}

// ExecuteResponse pairs the run record with the normalized output.
type ExecuteResponse struct {
	RunID  string             `json:"run_id"`
	Output forage.FetchOutput `json:"output"`
}

// handleExecute validates, resolves credentials, dispatches the fetch,
// and records the run.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	contract, ok := s.lookupContract(w, r)
	if !ok {
		return
	}
	if s.invoker == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "invoker not configured")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	def := forage.IntegrationDef{
		Provider: contract.Provider,
		Method:   req.Method,
	}

	if len(req.Arguments) > 0 {
		args := contract.NewArguments()
		if err := json.Unmarshal(req.Arguments, args); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
		def.Arguments = args
	}

	setup, err := s.resolveSetup(r.Context(), contract, req.Setup, req.CredentialID)
	if err != nil {
		writeContractError(w, err)
		return
	}
	def.Setup = setup

	runID, out, fetchErr := s.executeDef(r.Context(), def, "")
	if fetchErr != nil {
		writeContractError(w, fetchErr)
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{RunID: runID, Output: out})
}

// executeDef validates the definition, dispatches the fetch, and records
// the run. Shared by the execute handler and the schedule runner.
func (s *Server) executeDef(ctx context.Context, def forage.IntegrationDef, scheduleID string) (string, forage.FetchOutput, error) {
	// Fail fast before dispatch so invalid payloads never hit the wire
	// and never pollute the run history.
	if err := def.Validate(); err != nil {
		s.recordValidationFailure(ctx, def.Provider, err)
		return "", forage.FetchOutput{}, err
	}

	runID := uuid.New().String()
	started := time.Now().UTC()
	out, fetchErr := s.invoker.Fetch(ctx, def)
	completed := time.Now().UTC()

	s.metrics.RecordFetch(ctx, def.Provider, completed.Sub(started), fetchErr)
	s.recordRun(ctx, FetchRunRecord{
		ID:            runID,
		Provider:      def.Provider,
		Method:        def.Method,
		ScheduleID:    scheduleID,
		Status:        runStatus(fetchErr),
		DocumentCount: len(out.Documents),
		Error:         errorMessage(fetchErr),
		StartedAt:     started,
		CompletedAt:   completed,
		DurationMs:    completed.Sub(started).Milliseconds(),
	})

	if fetchErr != nil {
		s.logger.Warn("fetch failed",
			"provider", def.Provider, "run_id", runID, "error", fetchErr)
		return runID, forage.FetchOutput{}, fetchErr
	}
	return runID, out, nil
}

// resolveSetup picks the credentials for a fetch.
func (s *Server) resolveSetup(ctx context.Context, contract forage.Contract, setupRaw json.RawMessage, credentialID string) (forage.Setup, error) {
	if len(setupRaw) > 0 {
		setup := contract.NewSetup()
		if err := json.Unmarshal(setupRaw, setup); err != nil {
			return nil, fmt.Errorf("decoding setup: %w", err)
		}
		return setup, nil
	}

	if s.credentials != nil {
		setup, ok, err := s.setupFromStore(ctx, contract, credentialID)
		if err != nil || ok {
			return setup, err
		}
	}

	if setup, ok := forage.SetupFromEnv(contract.Provider); ok {
		return setup, nil
	}
	return nil, nil
}

func (s *Server) setupFromStore(ctx context.Context, contract forage.Contract, credentialID string) (forage.Setup, bool, error) {
	id := credentialID
	if id == "" {
		records, err := s.credentials.List(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("listing credentials: %w", err)
		}
		for _, rec := range records {
			if rec.Provider == contract.Provider && rec.Status == CredentialStatusConfigured {
				id = rec.ID
				break
			}
		}
		if id == "" {
			return nil, false, nil
		}
	}

	apiKey, err := s.credentials.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, false, fmt.Errorf("credential %q not found", id)
		}
		return nil, false, fmt.Errorf("loading credential %q: %w", id, err)
	}
	if apiKey == "" {
		return nil, false, nil
	}

	setup := contract.NewSetup()
	raw, err := json.Marshal(map[string]string{setupKeyField(contract): apiKey})
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(raw, setup); err != nil {
		return nil, false, err
	}
	return setup, true, nil
}

// setupKeyField returns the JSON field name of the provider's API key,
// taken from the card so the contract stays the single source of truth.
func setupKeyField(contract forage.Contract) string {
	for _, field := range contract.Card.SetupFields {
		if field.Secret {
			return field.Name
		}
	}
	return "api_key"
}

func (s *Server) lookupContract(w http.ResponseWriter, r *http.Request) (forage.Contract, bool) {
	tag := forage.Provider(r.PathValue("provider"))
	contract, ok := s.registry.Lookup(tag)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_PROVIDER",
			fmt.Sprintf("provider %q is not registered", tag))
		return forage.Contract{}, false
	}
	return contract, true
}

func (s *Server) recordValidationFailure(ctx context.Context, provider forage.Provider, err error) {
	field := ""
	var cfgErr *forage.ConfigError
	var valErr *forage.ValidationError
	switch {
	case errors.As(err, &valErr):
		field = valErr.Field
	case errors.As(err, &cfgErr):
		field = cfgErr.Field
	}
	s.metrics.RecordValidationFailure(ctx, provider, field)
}

func (s *Server) recordRun(ctx context.Context, rec FetchRunRecord) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Create(ctx, rec); err != nil {
		s.logger.Warn("failed to record run", "run_id", rec.ID, "error", err)
	}
}

func runStatus(err error) string {
	if err != nil {
		return RunStatusFailed
	}
	return RunStatusSucceeded
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
