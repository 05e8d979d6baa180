// Package audit writes the compliance audit trail. Writes are best effort:
// a failed audit insert is logged and swallowed, and must never fail or roll
// back the business operation that triggered it.
package audit

import (
	"context"
	"log"

	"compass/api/internal/store"
)

// Event is one audit record. TargetID and Meta are optional.
type Event struct {
	RequestID  string
	UserID     string
	Action     string
	TargetType string
	TargetID   string
	Meta       map[string]any
}

type Sink interface {
	Record(ctx context.Context, event Event)
}

type logStore interface {
	InsertAuditLog(ctx context.Context, entry store.AuditLog) error
}

// StoreSink persists events to the audit_logs table.
type StoreSink struct {
	store logStore
}

func NewStoreSink(s logStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Record(ctx context.Context, event Event) {
	entry := store.AuditLog{
		RequestID:  event.RequestID,
		Action:     event.Action,
		TargetType: event.TargetType,
		Meta:       event.Meta,
	}
	if event.UserID != "" {
		entry.UserID = &event.UserID
	}
	if event.TargetID != "" {
		entry.TargetID = &event.TargetID
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		log.Printf("audit: write failed for %s: %v", event.Action, err)
	}
}

// Discard drops every event. Used where no store is wired, mainly in tests.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
