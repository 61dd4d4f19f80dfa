package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leaddesk/api/internal/auth"
	"leaddesk/api/internal/email"
	"leaddesk/api/internal/export"
	"leaddesk/api/internal/leads"
	"leaddesk/api/internal/pbx"
	"leaddesk/api/internal/rbac"
	"leaddesk/api/internal/recording"
	"leaddesk/api/internal/stages"
	"leaddesk/api/internal/whatsapp"
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

// allow writes a 403 and reports false when the role may not perform action.
func (s *HTTPServer) allow(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
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

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stages" {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Stages())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		limit, err := queryInt(query.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(query.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), query.Get("q"), query.Get("kind"), query.Get("leadId"), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		if !s.allow(w, session, rbac.ActionAdmin) {
			return
		}
		var body CreateAgentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateAgent(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "leads" {
		s.handleLeads(w, r, session, parts[2], parts[3:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "calls" {
		s.handleCalls(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLeads(w http.ResponseWriter, r *http.Request, session Session, leadID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.GetLead(r.Context(), leadID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if len(rest) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "timeline":
		if r.Method != http.MethodGet {
			break
		}
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		limit, err := queryInt(query.Get("limit"), 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(query.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		refresh, _ := strconv.ParseBool(query.Get("refresh"))
		page, err := s.service.Timeline(r.Context(), leadID, TimelineQuery{
			Offset:  offset,
			Limit:   limit,
			Kinds:   query["kind"],
			Refresh: refresh,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return

	case "interactions":
		if r.Method != http.MethodPost {
			break
		}
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body leads.ManualInteractionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.AddManualInteraction(r.Context(), session, leadID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return

	case "stage":
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			widget, err := s.service.StageWidget(r.Context(), leadID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, widget)
			return
		}
		if r.Method != http.MethodPut {
			break
		}
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body leads.StageChangeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		widget, err := s.service.ChangeStage(r.Context(), session, leadID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, widget)
		return

	case "emails":
		if r.Method != http.MethodPost {
			break
		}
		if !s.allow(w, session, rbac.ActionCommunicate) {
			return
		}
		var body leads.SendEmailInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SendEmail(r.Context(), session, leadID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return

	case "whatsapp":
		if r.Method != http.MethodPost {
			break
		}
		if !s.allow(w, session, rbac.ActionCommunicate) {
			return
		}
		var body leads.SendWhatsAppInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SendWhatsApp(r.Context(), session, leadID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return

	case "export":
		if r.Method != http.MethodPost {
			break
		}
		if !s.allow(w, session, rbac.ActionExport) {
			return
		}
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Export(r.Context(), session, leadID, body.Format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		payload, err := s.service.ListCalls(r.Context(), CallQuery{
			LeadID:    query.Get("leadId"),
			Direction: query.Get("direction"),
			Status:    query.Get("status"),
			From:      query.Get("from"),
			To:        query.Get("to"),
			Limit:     query.Get("limit"),
			Offset:    query.Get("offset"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "sync" && r.Method == http.MethodPost {
		if !s.allow(w, session, rbac.ActionSync) {
			return
		}
		result, err := s.service.SyncCalls(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(rest) == 2 && rest[1] == "recording" && r.Method == http.MethodGet {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.RecordingURL(r.Context(), rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	known := len(rest) == 0 ||
		(len(rest) == 1 && rest[0] == "sync") ||
		(len(rest) == 2 && rest[1] == "recording")
	if known {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps err to its JSON error response. Unexpected errors are logged
// with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		log.Printf("request_id=%s %s %s failed: %v", requestID, r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, message, details)
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *leads.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]any{"fields": validationErr.Fields}
	}
	switch {
	case errors.Is(err, leads.ErrInvalidLeadID):
		return http.StatusBadRequest, "INVALID_LEAD_ID", "Invalid lead id", nil
	case errors.Is(err, stages.ErrLegacyReadOnly):
		return http.StatusConflict, "LEGACY_READ_ONLY", "Legacy leads are read-only", nil
	case errors.Is(err, stages.ErrUnknownStage):
		return http.StatusUnprocessableEntity, "UNKNOWN_STAGE", "Unknown stage", nil
	case errors.Is(err, stages.ErrReasonRequired):
		return http.StatusUnprocessableEntity, "REASON_REQUIRED", "This stage requires a reason", nil
	case errors.Is(err, pbx.ErrSyncInProgress):
		return http.StatusConflict, "SYNC_IN_PROGRESS", "A PBX sync is already running", nil
	case errors.Is(err, pbx.ErrNotConfigured),
		errors.Is(err, email.ErrNotConfigured),
		errors.Is(err, whatsapp.ErrNotConfigured),
		errors.Is(err, recording.ErrNotConfigured):
		return http.StatusServiceUnavailable, "NOT_CONFIGURED", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": session.Token,
		"userId":      session.UserID,
		"userName":    session.UserName,
		"role":        session.Role,
		"expiresAt":   session.ExpiresAt.Unix(),
	})
}
