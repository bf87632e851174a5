package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/praktijkzorg/medguard/internal/anonymizer"
	"github.com/praktijkzorg/medguard/internal/audit"
	"github.com/praktijkzorg/medguard/internal/auth"
	"github.com/praktijkzorg/medguard/internal/guardrails"
	"github.com/praktijkzorg/medguard/internal/memoryaccess"
	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/reports"
)

// ---- auth ----

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken); err != nil {
		respondError(w, http.StatusInternalServerError, "logout_failed", "Failed to log out")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    claims.UserID,
		"email":      claims.Email,
		"role":       claims.Role,
		"patient_id": claims.PatientID,
	})
}

// ---- guardrails ----

type validateRequest struct {
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type validateResponse struct {
	Allowed        bool               `json:"allowed"`
	RefusalMessage string             `json:"refusal_message,omitempty"`
	Result         *guardrails.Result `json:"result"`
}

func (s *Server) validateInput(w http.ResponseWriter, r *http.Request) {
	s.validate(w, r, true)
}

func (s *Server) validateOutput(w http.ResponseWriter, r *http.Request) {
	s.validate(w, r, false)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request, input bool) {
	claims, _ := auth.GetUserFromContext(r.Context())

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "Field 'text' is required")
		return
	}

	gctx := guardrails.Context{
		Source:    req.Source,
		Role:      claims.Role,
		SessionID: req.SessionID,
	}

	var result *guardrails.Result
	if input {
		result = s.orchestrator.ValidateInput(r.Context(), req.Text, gctx)
	} else {
		result = s.orchestrator.ValidateOutput(r.Context(), req.Text, gctx)
	}

	s.recordGuardrailEvents(req.Text, claims.Role, result)

	respondJSON(w, http.StatusOK, validateResponse{
		Allowed:        result.Allowed,
		RefusalMessage: result.RefusalMessage(),
		Result:         result,
	})
}

// recordGuardrailEvents writes one audit entry per decisive sub-check.
// Skipped checks leave no trace; the text itself travels only as a hash.
func (s *Server) recordGuardrailEvents(text string, role models.Role, result *guardrails.Result) {
	pass := result.Input
	if pass == nil {
		pass = result.Output
	}
	if pass == nil {
		return
	}

	queryHash := anonymizer.HashText(text)
	for _, check := range pass.Checks {
		var action audit.GuardrailAction
		switch check.Status {
		case models.StatusBlocked:
			action = audit.ActionBlocked
		case models.StatusWarning:
			action = audit.ActionWarned
		case models.StatusError:
			action = audit.ActionErrored
		case models.StatusPassed:
			action = audit.ActionPassed
		default:
			continue
		}

		entry := audit.NewGuardrailEventEntry(audit.GuardrailEventEntry{
			GuardrailType: check.Check,
			Action:        action,
			Reason:        check.Reason,
			QueryHash:     queryHash,
			Role:          role,
			LatencyMS:     result.Elapsed.Milliseconds(),
			Confidence:    check.Confidence,
		})
		s.trail.RecordGuardrailEvent(entry)

		if action == audit.ActionBlocked {
			go func(e *audit.GuardrailEventEntry) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.notifier.NotifyGuardrailBlock(ctx, e); err != nil {
					s.logger.Error("guardrail block alert failed", "error", err)
				}
			}(entry)
		}
	}
}

// ---- anonymization and cloud gating ----

type anonymizeRequest struct {
	Text string `json:"text"`
}

func (s *Server) anonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "Field 'text' is required")
		return
	}

	respondJSON(w, http.StatusOK, s.anonymizer.Anonymize(req.Text))
}

type eligibilityRequest struct {
	Text      string `json:"text"`
	Provider  string `json:"provider,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) cloudEligibility(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())
	start := time.Now()

	var req eligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "Field 'text' is required")
		return
	}
	if req.Provider == "" {
		req.Provider = "cloud"
	}

	// Policy first: denied roles never trigger a detection pass.
	if elig := s.decider.DecidePolicy(claims.Role); !elig.Eligible {
		respondJSON(w, http.StatusOK, elig)
		return
	}

	anon := s.anonymizer.Anonymize(req.Text)
	elig := s.decider.Decide(anon)

	if elig.Eligible {
		transformations := make([]string, len(anon.Transformations))
		for i, tr := range anon.Transformations {
			transformations[i] = string(tr.Category) + ":" + string(tr.Action)
		}
		s.trail.RecordCloudQuery(audit.NewCloudQueryEntry(audit.CloudQueryEntry{
			CloudQueryText:    anon.Text,
			OriginalQueryHash: anon.OriginalHash,
			PIICategories:     anon.Categories(),
			PIICount:          anon.PIICount(),
			Transformations:   transformations,
			Role:              claims.Role,
			SessionHash:       anonymizer.HashSession(req.SessionID),
			Provider:          req.Provider,
			LatencyMS:         time.Since(start).Milliseconds(),
		}))
	}

	respondJSON(w, http.StatusOK, elig)
}

// ---- memory access ----

func (s *Server) memoryAccess(w http.ResponseWriter, r *http.Request) {
	var req memoryaccess.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.AgentRole == "" || req.Operation == "" || req.MemoryType == "" {
		respondError(w, http.StatusBadRequest, "missing_fields", "agent_role, operation and memory_type are required")
		return
	}

	respondJSON(w, http.StatusOK, s.memory.CheckAccess(req))
}

type contextRequest struct {
	SessionID        string `json:"session_id"`
	PatientContextID string `json:"patient_context_id"`
}

func (s *Server) registerPatientContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.memory.RegisterPatientContext(req.SessionID, req.PatientContextID); err != nil {
		respondError(w, http.StatusConflict, "context_conflict", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// ---- audit inspection ----

func parseTimeRange(r *http.Request) (audit.TimeRange, error) {
	var tr audit.TimeRange

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return tr, errors.New("invalid 'from' timestamp, expected RFC3339")
		}
		tr.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return tr, errors.New("invalid 'to' timestamp, expected RFC3339")
		}
		tr.To = t
	}
	return tr, nil
}

func (s *Server) listCloudQueries(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := s.reader.QueryCloudQueries(r.Context(), tr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query audit log")
		return
	}

	records := make([]map[string]any, len(entries))
	for i := range entries {
		records[i] = entries[i].ToInspectionRecord()
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) listGuardrailEvents(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := s.reader.QueryGuardrailEvents(r.Context(), tr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query audit log")
		return
	}

	records := make([]map[string]any, len(entries))
	for i := range entries {
		records[i] = entries[i].ToDict()
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) listIsolationChecks(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := s.reader.QueryIsolationChecks(r.Context(), tr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query audit log")
		return
	}

	records := make([]map[string]any, len(entries))
	for i := range entries {
		records[i] = entries[i].ToDict()
	}
	respondJSON(w, http.StatusOK, records)
}

// ---- reporting ----

func (s *Server) effectivenessReport(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	if tr.From.IsZero() {
		tr.From = time.Now().UTC().Add(-30 * 24 * time.Hour)
	}
	if tr.To.IsZero() {
		tr.To = time.Now().UTC()
	}

	report, err := s.reporter.BuildReport(r.Context(), tr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to build report")
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		rendered, err := reports.Render(report, reports.FormatPDF)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "render_failed", "Failed to render report")
			return
		}
		w.Header().Set("Content-Type", rendered.MimeType)
		w.Header().Set("Content-Disposition", "attachment; filename="+rendered.Filename)
		_, _ = w.Write(rendered.Data)
		return
	}

	respondJSON(w, http.StatusOK, report.ToEvidence())
}

// ---- user management ----

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userStore.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Password  string      `json:"password"`
	Role      models.Role `json:"role"`
	PatientID string      `json:"patient_id,omitempty"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "missing_fields", "email and password are required")
		return
	}
	if !req.Role.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_role", "Unknown role")
		return
	}
	if req.Role == models.RolePatient && req.PatientID == "" {
		respondError(w, http.StatusBadRequest, "missing_patient_id", "patient accounts require patient_id")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "hash_failed", "Failed to process password")
		return
	}

	user := &auth.User{
		Email:     req.Email,
		Name:      req.Name,
		Password:  hash,
		Role:      req.Role,
		PatientID: req.PatientID,
	}
	if err := s.userStore.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusConflict, "create_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, user)
}
