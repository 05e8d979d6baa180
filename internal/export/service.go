package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetTranscript(ctx context.Context, sessionID string) (SessionInfo, []MessageInfo, error)
	ListAuditEntries(ctx context.Context, limit int) ([]AuditEntryInfo, error)
}

// Service provides transcript and audit-report export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ExportTranscript renders a chat session transcript in the requested format.
func (s *Service) ExportTranscript(ctx context.Context, sessionID string, format Format) (*Result, error) {
	session, messages, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	title := session.Title
	if title == "" {
		title = "Chat Transcript"
	}

	data := TranscriptData{
		Title:       title,
		ProjectName: session.ProjectName,
		CreatedAt:   session.CreatedAt,
		GeneratedAt: time.Now(),
		Messages:    make([]TranscriptMessage, 0, len(messages)),
	}
	for _, m := range messages {
		data.Messages = append(data.Messages, TranscriptMessage{
			Role:      m.Role,
			Content:   m.Content,
			Citations: m.Citations,
			CreatedAt: m.CreatedAt,
		})
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}

	return renderFormat(html, title, format)
}

// ExportAuditReport renders recent audit log entries as a report.
func (s *Service) ExportAuditReport(ctx context.Context, orgName string, limit int, format Format) (*Result, error) {
	entries, err := s.store.ListAuditEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}

	html, err := RenderAuditHTML(AuditData{
		OrgName:     orgName,
		GeneratedAt: time.Now(),
		Entries:     entries,
	})
	if err != nil {
		return nil, fmt.Errorf("render audit report: %w", err)
	}

	return renderFormat(html, "audit-report", format)
}

func renderFormat(html, title string, format Format) (*Result, error) {
	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
