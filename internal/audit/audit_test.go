package audit

import (
	"context"
	"errors"
	"testing"

	"compass/api/internal/store"
)

type fakeLogStore struct {
	entries []store.AuditLog
	err     error
}

func (f *fakeLogStore) InsertAuditLog(_ context.Context, entry store.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestStoreSinkPersistsEvent(t *testing.T) {
	logs := &fakeLogStore{}
	sink := NewStoreSink(logs)

	sink.Record(context.Background(), Event{
		RequestID:  "req-1",
		UserID:     "usr_1",
		Action:     "CHAT_MESSAGE",
		TargetType: "ChatSession",
		TargetID:   "chs_1",
		Meta:       map[string]any{"difyConversationId": "c1"},
	})

	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.Action != "CHAT_MESSAGE" || entry.RequestID != "req-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.UserID == nil || *entry.UserID != "usr_1" {
		t.Fatalf("expected user id pointer, got %v", entry.UserID)
	}
	if entry.TargetID == nil || *entry.TargetID != "chs_1" {
		t.Fatalf("expected target id pointer, got %v", entry.TargetID)
	}
}

func TestStoreSinkLeavesOptionalFieldsNil(t *testing.T) {
	logs := &fakeLogStore{}
	sink := NewStoreSink(logs)

	sink.Record(context.Background(), Event{RequestID: "req-1", Action: "CHAT_ERROR", TargetType: "ChatSession"})

	if logs.entries[0].UserID != nil || logs.entries[0].TargetID != nil {
		t.Fatalf("expected nil user and target ids, got %+v", logs.entries[0])
	}
}

func TestStoreSinkSwallowsWriteFailures(t *testing.T) {
	logs := &fakeLogStore{err: errors.New("disk full")}
	sink := NewStoreSink(logs)

	// Must not panic or propagate; the business operation already succeeded.
	sink.Record(context.Background(), Event{RequestID: "req-1", Action: "PROJECT_CREATE", TargetType: "Project"})
}
