package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/export"
	"compass/api/internal/identity"
	"compass/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	resolver   identity.Resolver
	corsOrigin string
}

func NewHTTPServer(service *Service, resolver identity.Resolver, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, resolver: resolver, corsOrigin: corsOrigin}
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

	// Auth routes carry their own credentials; no resolved identity needed.
	if strings.HasPrefix(r.URL.Path, "/api/auth/") || strings.HasPrefix(r.URL.Path, "/api/session") {
		s.handleAuthRoutes(w, r)
		return
	}

	if r.URL.Path == "/api/chat" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost, http.MethodOptions)
			return
		}
		caller, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		s.handleChat(w, r, caller)
		return
	}

	caller, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/search" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		orgID := strings.TrimSpace(r.URL.Query().Get("orgId"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		payload, err := s.service.Search(r.Context(), caller, q, filterType, orgID, limit, offset)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/search/reindex" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost, http.MethodOptions)
			return
		}
		payload, err := s.service.ReindexSearch(r.Context(), caller)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/projects" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListProjects(r.Context(), caller, strings.TrimSpace(r.URL.Query().Get("orgId")))
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProject(r.Context(), caller, body)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodOptions)
		}
		return
	}

	if r.URL.Path == "/api/documents" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListDocuments(r.Context(), caller,
				strings.TrimSpace(r.URL.Query().Get("orgId")),
				strings.TrimSpace(r.URL.Query().Get("projectId")))
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body DocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateDocument(r.Context(), caller, body)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodOptions)
		}
		return
	}

	if r.URL.Path == "/api/orgs" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListOrganizations(r.Context(), caller)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Slug string `json:"slug"`
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateOrganization(r.Context(), caller, body.Slug, body.Name)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodOptions)
		}
		return
	}

	if r.URL.Path == "/api/users" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListUsers(r.Context(), caller, strings.TrimSpace(r.URL.Query().Get("orgId")))
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Email string  `json:"email"`
				Name  string  `json:"name"`
				Role  string  `json:"role"`
				OrgID *string `json:"orgId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.InviteUser(r.Context(), caller, body.Email, body.Name, body.Role, body.OrgID)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodOptions)
		}
		return
	}

	if r.URL.Path == "/api/audit" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
			return
		}
		limit, ok := queryInt(w, r, "limit", 100)
		if !ok {
			return
		}
		payload, err := s.service.ListAuditTrail(r.Context(), caller, store.AuditFilter{
			Action:     strings.TrimSpace(r.URL.Query().Get("action")),
			TargetType: strings.TrimSpace(r.URL.Query().Get("targetType")),
			UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
			Limit:      limit,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/projects/{id} and /api/projects/{id}/documents
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]
		if len(parts) == 3 {
			s.handleProjectItem(w, r, caller, projectID)
			return
		}
		if len(parts) == 4 && parts[3] == "documents" {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
				return
			}
			payload, err := s.service.ListDocuments(r.Context(), caller, "", projectID)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	// /api/documents/{id}, /api/documents/{id}/upload, /api/documents/{id}/download
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		documentID := parts[2]
		if len(parts) == 3 {
			s.handleDocumentItem(w, r, caller, documentID)
			return
		}
		if len(parts) == 4 && parts[3] == "upload" {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				methodNotAllowed(w, r, http.MethodPost, http.MethodPut, http.MethodOptions)
				return
			}
			s.handleDocumentUpload(w, r, caller, documentID)
			return
		}
		if len(parts) == 4 && parts[3] == "download" {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
				return
			}
			s.handleDocumentDownload(w, r, caller, documentID)
			return
		}
	}

	// /api/orgs/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "orgs" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
			return
		}
		payload, err := s.service.GetOrganization(r.Context(), caller, parts[2])
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/users/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "users" {
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch, http.MethodOptions)
			return
		}
		var body struct {
			Role   *string `json:"role"`
			Status *string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateUserAccess(r.Context(), caller, parts[2], body.Role, body.Status)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/chat/sessions/{id}/messages
	if len(parts) == 5 && parts[0] == "api" && parts[1] == "chat" && parts[2] == "sessions" && parts[4] == "messages" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
			return
		}
		payload, err := s.service.SessionMessages(r.Context(), caller, parts[3])
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/export/sessions/{id}.pdf|.docx and /api/export/audit.pdf|.docx
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "export" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet, http.MethodOptions)
			return
		}
		s.handleExport(w, r, caller, parts[2:])
		return
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	var body ChatTurnInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	payload, err := s.service.ChatTurn(r.Context(), caller, body)
	if err != nil {
		status, code, message, details := mapError(err)
		response := map[string]any{
			"requestId": requestIDFrom(r.Context()),
			"code":      code,
			"error":     message,
		}
		if details != nil {
			response["details"] = details
		}
		var turnErr *chatTurnError
		if errors.As(err, &turnErr) && turnErr.SessionID != "" {
			response["sessionId"] = turnErr.SessionID
		}
		writeJSON(w, status, response)
		return
	}
	payload["requestId"] = requestIDFrom(r.Context())
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleProjectItem(w http.ResponseWriter, r *http.Request, caller identity.Identity, projectID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetProject(r.Context(), caller, projectID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPatch, http.MethodPut:
		var body struct {
			Name         *string `json:"name"`
			Jurisdiction *string `json:"jurisdiction"`
			FacilityType *string `json:"facilityType"`
			Stage        *string `json:"stage"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateProject(r.Context(), caller, projectID, store.ProjectUpdate{
			Name:         body.Name,
			Jurisdiction: body.Jurisdiction,
			FacilityType: body.FacilityType,
			Stage:        body.Stage,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		payload, err := s.service.DeleteProject(r.Context(), caller, projectID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions)
	}
}

func (s *HTTPServer) handleDocumentItem(w http.ResponseWriter, r *http.Request, caller identity.Identity, documentID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetDocument(r.Context(), caller, documentID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPatch, http.MethodPut:
		var body struct {
			Name           *string         `json:"name"`
			Type           *string         `json:"type"`
			Size           *int64          `json:"size"`
			Status         *string         `json:"status"`
			DifyDocumentID json.RawMessage `json:"difyDocumentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		update := store.DocumentUpdate{
			Name:   body.Name,
			Type:   body.Type,
			Size:   body.Size,
			Status: body.Status,
		}
		// An explicit JSON null detaches the document from its upstream copy;
		// an absent field leaves the reference untouched.
		if len(body.DifyDocumentID) > 0 {
			if string(body.DifyDocumentID) == "null" {
				update.ClearDifyDocumentID = true
			} else {
				var difyID string
				if err := json.Unmarshal(body.DifyDocumentID, &difyID); err != nil {
					writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "difyDocumentId must be a string or null", nil)
					return
				}
				update.DifyDocumentID = &difyID
			}
		}
		payload, err := s.service.UpdateDocument(r.Context(), caller, documentID, update)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		payload, err := s.service.DeleteDocument(r.Context(), caller, documentID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions)
	}
}

func (s *HTTPServer) handleDocumentUpload(w http.ResponseWriter, r *http.Request, caller identity.Identity, documentID string) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	payload, err := s.service.UploadDocumentFile(r.Context(), caller, documentID, r.Body, r.ContentLength, contentType)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDocumentDownload(w http.ResponseWriter, r *http.Request, caller identity.Identity, documentID string) {
	reader, document, err := s.service.DownloadDocumentFile(r.Context(), caller, documentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer reader.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", document.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, caller identity.Identity, parts []string) {
	var result *export.Result
	var err error

	switch {
	case len(parts) == 2 && parts[0] == "sessions":
		sessionID, format, ok := splitExportName(parts[1])
		if !ok {
			writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		result, err = s.service.ExportTranscript(r.Context(), caller, sessionID, format)
	case len(parts) == 1:
		name, format, ok := splitExportName(parts[0])
		if !ok || name != "audit" {
			writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		result, err = s.service.ExportAuditReport(r.Context(), caller, format)
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			writeError(w, r, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer not available on this host", nil)
			return
		}
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func splitExportName(name string) (string, export.Format, bool) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return "", "", false
	}
	base, ext := name[:idx], name[idx+1:]
	switch ext {
	case "pdf":
		return base, export.FormatPDF, true
	case "docx":
		return base, export.FormatDOCX, true
	default:
		return "", "", false
	}
}

// handleAuthRoutes serves credential flows for token auth mode. The routes
// are registered regardless of auth mode; in header mode they are simply
// unused by the frontend.
func (s *HTTPServer) handleAuthRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
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
			"orgId":         nullable(session.OrgID),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
			"expiresAt":    session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string  `json:"email"`
		Password string  `json:"password"`
		Name     string  `json:"name"`
		OrgID    *string `json:"orgId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
		OrgID:    body.OrgID,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, r, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, r, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	if s.service.SMTPConfigured() {
		emailSvc := s.service.EmailService()
		verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.service.cfg.AppBaseURL, resp.VerificationToken)
		_ = emailSvc.SendVerificationEmail(body.Email, body.Name, verifyURL)
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: surface the verification token when email delivery is off.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"orgId":        nullable(session.OrgID),
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, r, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	if s.service.SMTPConfigured() && token != "" {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.service.cfg.AppBaseURL, token)
		_ = s.service.EmailService().SendPasswordResetEmail(body.Email, "", resetURL)
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if !s.service.SMTPConfigured() && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, r, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

// requireIdentity resolves the caller. In token auth mode an unauthenticated
// caller is rejected; in header mode missing headers degrade to anonymous.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	caller, err := s.resolver.Resolve(r)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, r, status, code, message, details)
		return identity.Identity{}, false
	}
	if s.service.cfg.AuthMode == "token" && caller.UserID == "" {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return identity.Identity{}, false
	}
	return caller, true
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

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-user-id, x-user-role, x-org-id")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	response := map[string]any{
		"requestId": requestIDFrom(r.Context()),
		"code":      code,
		"error":     message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	writeError(w, r, status, code, message, details)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
