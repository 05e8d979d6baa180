package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"compass/api/internal/assistant"
	"compass/api/internal/audit"
	"compass/api/internal/export"
	"compass/api/internal/identity"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

// anonymousChatUser is the upstream user identity for callers with no
// resolved user id.
const anonymousChatUser = "compass-web-user"

// noCitationsMarker is stored in citations_json when the upstream reported
// no retrieved sources, so an empty list is distinguishable from a turn
// recorded before citation capture existed.
const noCitationsMarker = `"NO_CITATIONS"`

type ChatTurnInput struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId"`
	SessionID      string `json:"sessionId"`
	ProjectID      string `json:"projectId"`
	UserID         string `json:"userId"`
}

// chatTurnError is a turn failure that already carries its own audit trail
// and the session the turn was bound to, so the HTTP layer can echo the
// session id back to the caller.
type chatTurnError struct {
	*DomainError
	SessionID string
}

func (e *chatTurnError) Unwrap() error {
	return e.DomainError
}

// ChatTurn runs one request/response chat exchange. Every failure path
// leaves an audit record: upstream non-2xx responses are recorded inline as
// CHAT_UPSTREAM_ERROR, everything else lands here as CHAT_ERROR.
func (s *Service) ChatTurn(ctx context.Context, caller identity.Identity, input ChatTurnInput) (map[string]any, error) {
	payload, err := s.chatTurn(ctx, caller, input)
	if err != nil {
		var turnErr *chatTurnError
		if !errors.As(err, &turnErr) {
			s.audit.Record(ctx, audit.Event{
				RequestID:  requestIDFrom(ctx),
				UserID:     caller.UserID,
				Action:     "CHAT_ERROR",
				TargetType: "chat_session",
				Meta:       map[string]any{"error": err.Error()},
			})
		}
		return nil, err
	}
	return payload, nil
}

func (s *Service) chatTurn(ctx context.Context, caller identity.Identity, input ChatTurnInput) (map[string]any, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "query is required", nil)
	}
	if !rbac.Can(caller.Role, rbac.ActionChat) {
		return nil, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if s.cfg.DifyBaseURL == "" || s.cfg.DifyAPIKey == "" {
		return nil, domainError(500, "CONFIG_ERROR", "chat backend is not configured: set DIFY_BASE_URL and DIFY_APP_API_KEY", nil)
	}

	session, err := s.resolveChatSession(ctx, caller, input)
	if err != nil {
		return nil, err
	}

	chatUser := strings.TrimSpace(input.UserID)
	if chatUser == "" {
		chatUser = caller.UserID
	}
	if chatUser == "" {
		chatUser = anonymousChatUser
	}

	timeout := s.cfg.DifyTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := s.upstream.Send(callCtx, assistant.SendInput{
		Query:          query,
		ConversationID: input.ConversationID,
		User:           chatUser,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domainError(504, "UPSTREAM_TIMEOUT", "chat backend did not answer in time", nil)
		}
		var upstreamErr *assistant.UpstreamError
		if errors.As(err, &upstreamErr) {
			s.audit.Record(ctx, audit.Event{
				RequestID:  requestIDFrom(ctx),
				UserID:     caller.UserID,
				Action:     "CHAT_UPSTREAM_ERROR",
				TargetType: "chat_session",
				TargetID:   session.ID,
				Meta:       map[string]any{"status": upstreamErr.Status, "details": upstreamErr.Body},
			})
			return nil, &chatTurnError{
				DomainError: domainError(upstreamErr.Status, "UPSTREAM_ERROR", "Upstream request failed", upstreamErr.Body),
				SessionID:   session.ID,
			}
		}
		return nil, err
	}

	citations := noCitationsMarker
	if len(reply.Sources) > 0 {
		encoded, err := json.Marshal(reply.Sources)
		if err != nil {
			return nil, err
		}
		citations = string(encoded)
	}
	userMsg := store.ChatMessage{SessionID: session.ID, Role: "USER", Content: query}
	assistantMsg := store.ChatMessage{SessionID: session.ID, Role: "ASSISTANT", Content: reply.Answer, CitationsJSON: &citations}
	if err := s.store.InsertMessagePair(ctx, userMsg, assistantMsg); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		RequestID:  requestIDFrom(ctx),
		UserID:     caller.UserID,
		Action:     "CHAT_MESSAGE",
		TargetType: "chat_session",
		TargetID:   session.ID,
		Meta:       map[string]any{"conversationId": reply.ConversationID},
	})

	if s.search != nil {
		answer := search.AnswerRecord{
			ID:        util.NewID("ans"),
			Content:   reply.Answer,
			SessionID: session.ID,
		}
		if session.ProjectID != nil {
			answer.ProjectID = *session.ProjectID
		}
		if session.ProjectOrgID != nil {
			answer.OrgID = *session.ProjectOrgID
		}
		s.search.IndexAnswer(answer)
	}

	return map[string]any{
		"answer":         reply.Answer,
		"conversationId": nullable(reply.ConversationID),
		"messageId":      nullable(reply.MessageID),
		"sessionId":      session.ID,
		"sources":        reply.Sources,
	}, nil
}

// resolveChatSession reuses the referenced session or creates one. A session
// bound to a project inherits that project's tenant; a session with no
// project has no tenant boundary and any authenticated caller may use it.
func (s *Service) resolveChatSession(ctx context.Context, caller identity.Identity, input ChatTurnInput) (store.ChatSession, error) {
	if input.SessionID != "" {
		session, err := s.store.GetChatSession(ctx, input.SessionID)
		if err != nil {
			return store.ChatSession{}, err
		}
		if session.ProjectOrgID != nil {
			if err := s.assertOrgAccess(caller, *session.ProjectOrgID); err != nil {
				return store.ChatSession{}, err
			}
		}
		return session, nil
	}

	title := sessionTitle(input.Query)
	if input.ProjectID != "" {
		project, err := s.store.GetProject(ctx, input.ProjectID)
		if err != nil {
			return store.ChatSession{}, err
		}
		if err := s.assertOrgAccess(caller, project.OrgID); err != nil {
			return store.ChatSession{}, err
		}
		return s.store.InsertChatSession(ctx, &project.ID, title)
	}

	return s.store.InsertChatSession(ctx, nil, title)
}

func sessionTitle(query string) string {
	title := strings.TrimSpace(query)
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// SessionMessages returns the ordered message log of one chat session, with
// citations decoded for the client.
func (s *Service) SessionMessages(ctx context.Context, caller identity.Identity, sessionID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	session, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ProjectOrgID != nil {
		if err := s.assertOrgAccess(caller, *session.ProjectOrgID); err != nil {
			return nil, err
		}
	}

	messages, err := s.store.ListSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, map[string]any{
			"id":        msg.ID,
			"role":      msg.Role,
			"content":   msg.Content,
			"citations": decodeCitations(msg.CitationsJSON),
			"createdAt": msg.CreatedAt,
		})
	}
	payload := map[string]any{
		"sessionId": session.ID,
		"title":     session.Title,
		"projectId": session.ProjectID,
		"messages":  items,
	}
	return payload, nil
}

func decodeCitations(raw *string) []string {
	if raw == nil {
		return nil
	}
	var sources []string
	if err := json.Unmarshal([]byte(*raw), &sources); err != nil {
		// The no-citations marker and any legacy payload decode to nothing.
		return nil
	}
	return sources
}

// GetTranscript loads a session in the shape the export renderer consumes.
func (s *Service) GetTranscript(ctx context.Context, sessionID string) (export.SessionInfo, []export.MessageInfo, error) {
	session, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return export.SessionInfo{}, nil, err
	}

	info := export.SessionInfo{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
	}
	if session.ProjectID != nil {
		project, err := s.store.GetProject(ctx, *session.ProjectID)
		if err == nil {
			info.ProjectName = project.Name
		}
	}

	messages, err := s.store.ListSessionMessages(ctx, sessionID)
	if err != nil {
		return export.SessionInfo{}, nil, err
	}
	items := make([]export.MessageInfo, 0, len(messages))
	for _, msg := range messages {
		items = append(items, export.MessageInfo{
			Role:      msg.Role,
			Content:   msg.Content,
			Citations: decodeCitations(msg.CitationsJSON),
			CreatedAt: msg.CreatedAt,
		})
	}
	return info, items, nil
}

// ListAuditEntries adapts the audit trail for report export.
func (s *Service) ListAuditEntries(ctx context.Context, limit int) ([]export.AuditEntryInfo, error) {
	logs, err := s.store.ListAuditLogs(ctx, store.AuditFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	entries := make([]export.AuditEntryInfo, 0, len(logs))
	for _, entry := range logs {
		item := export.AuditEntryInfo{
			RequestID:  entry.RequestID,
			Action:     entry.Action,
			TargetType: entry.TargetType,
			CreatedAt:  entry.CreatedAt,
		}
		if entry.UserID != nil {
			item.UserID = *entry.UserID
		}
		if entry.TargetID != nil {
			item.TargetID = *entry.TargetID
		}
		entries = append(entries, item)
	}
	return entries, nil
}

// ExportTranscript renders one session as a downloadable PDF or DOCX.
func (s *Service) ExportTranscript(ctx context.Context, caller identity.Identity, sessionID string, format export.Format) (*export.Result, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	session, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ProjectOrgID != nil {
		if err := s.assertOrgAccess(caller, *session.ProjectOrgID); err != nil {
			return nil, err
		}
	}
	return s.exporter.ExportTranscript(ctx, sessionID, format)
}

// ExportAuditReport renders the recent audit trail for compliance review.
func (s *Service) ExportAuditReport(ctx context.Context, caller identity.Identity, format export.Format) (*export.Result, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}

	orgName := "Compass"
	if caller.OrgID != "" {
		if org, err := s.store.GetOrganization(ctx, caller.OrgID); err == nil {
			orgName = org.Name
		}
	}
	return s.exporter.ExportAuditReport(ctx, orgName, 500, format)
}
