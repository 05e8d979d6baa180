// Package export renders chat transcripts and audit reports as PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// SessionInfo holds chat session metadata for a transcript export.
type SessionInfo struct {
	ID          string
	Title       string
	ProjectName string
	CreatedAt   time.Time
}

// MessageInfo holds a single transcript entry.
type MessageInfo struct {
	Role      string
	Content   string
	Citations []string
	CreatedAt time.Time
}

// AuditEntryInfo holds one audit log row for a report export.
type AuditEntryInfo struct {
	RequestID  string
	UserID     string
	Action     string
	TargetType string
	TargetID   string
	CreatedAt  time.Time
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
