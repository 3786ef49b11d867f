package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"daoboard/api/internal/allocation"
	"daoboard/api/internal/export"
	"daoboard/api/internal/store"
	"daoboard/api/internal/tenant"
	"daoboard/api/internal/votes"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tenants" {
		writeJSON(w, http.StatusOK, map[string]any{"tenants": s.service.Tenants()})
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) < 2 || segments[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	s.handleTenant(w, r, segments[1], segments[2:])
}

// handleTenant routes /api/{tenant}/proposals... and
// /api/{tenant}/rounds... so every surface resolves a tenant first.
func (s *HTTPServer) handleTenant(w http.ResponseWriter, r *http.Request, slug string, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if rest[0] == "rounds" {
		s.handleBallots(w, r, slug, rest[1:])
		return
	}
	if rest[0] != "proposals" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)
		payload, err := s.service.ListProposals(r.Context(), slug, limit, offset)
		s.respond(w, payload, err)

	case len(rest) == 2 && r.Method == http.MethodGet:
		payload, err := s.service.GetProposal(r.Context(), slug, rest[1])
		s.respond(w, payload, err)

	case len(rest) == 3 && rest[2] == "votes" && r.Method == http.MethodGet:
		payload, err := s.service.ProposalVotes(r.Context(), slug, rest[1])
		s.respond(w, payload, err)

	case len(rest) == 3 && rest[2] == "timeline" && r.Method == http.MethodGet:
		payload, err := s.service.Timeline(r.Context(), slug, rest[1])
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[2] == "votes" && rest[3] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, slug, rest[1])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, slug, proposalID string) {
	format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	tally, err := s.service.ExportTally(r.Context(), slug, proposalID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(slug, proposalID, format)))
	w.WriteHeader(http.StatusOK)
	if format == export.FormatJSON {
		err = export.WriteJSON(w, tally)
	} else {
		err = export.WriteCSV(w, tally)
	}
	if err != nil {
		log.Printf("export %s/%s: %v", slug, proposalID, err)
	}
}

// handleBallots routes /api/{tenant}/rounds/{round}/ballots/{address}...
func (s *HTTPServer) handleBallots(w http.ResponseWriter, r *http.Request, slug string, rest []string) {
	if len(rest) < 3 || rest[1] != "ballots" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	roundID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "round must be an integer", nil)
		return
	}
	address := rest[2]

	switch {
	case len(rest) == 3 && r.Method == http.MethodGet:
		payload, err := s.service.GetBallot(r.Context(), slug, roundID, address)
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[3] == "budget" && r.Method == http.MethodPut:
		var input UpdateBudgetInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBallotBudget(r.Context(), slug, roundID, address, input)
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[3] == "categories" && r.Method == http.MethodPut:
		var input UpdateCategoriesInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBallotCategories(r.Context(), slug, roundID, address, input)
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[3] == "os-only" && r.Method == http.MethodPut:
		var input UpdateOSOnlyInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBallotOSOnly(r.Context(), slug, roundID, address, input)
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[3] == "os-multiplier" && r.Method == http.MethodPut:
		var input UpdateOSMultiplierInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBallotOSMultiplier(r.Context(), slug, roundID, address, input)
		s.respond(w, payload, err)

	case len(rest) == 4 && rest[3] == "distribute" && r.Method == http.MethodPost:
		var input DistributeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.DistributeBallot(r.Context(), slug, roundID, address, input)
		s.respond(w, payload, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload map[string]any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *allocation.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Error(), map[string]any{"field": validationErr.Field}
	}
	var computationErr *votes.ComputationFailedError
	if errors.As(err, &computationErr) {
		return http.StatusServiceUnavailable, "COMPUTATION_FAILED", computationErr.Error(), nil
	}
	if errors.Is(err, tenant.ErrUnknownTenant) {
		return http.StatusNotFound, "UNKNOWN_TENANT", "Unknown tenant", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
