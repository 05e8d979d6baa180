package store

import "time"

type Organization struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID                    string
	Email                 string
	Name                  string
	Role                  string
	OrgID                 *string
	PasswordHash          string
	Status                string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID           string
	OrgID        string
	Name         string
	Jurisdiction string
	FacilityType string
	Stage        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Joined counts for list responses
	DocumentCount int
	SessionCount  int
}

type Document struct {
	ID             string
	ProjectID      string
	Name           string
	Type           string
	Size           int64
	Status         string
	DifyDocumentID *string
	StorageKey     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// OrgID is resolved through the owning project; access control always
	// checks this value, never a client-supplied tenant claim.
	OrgID string
}

type ChatSession struct {
	ID        string
	ProjectID *string
	Title     string
	CreatedAt time.Time
	// ProjectOrgID is nil for sessions with no project; such sessions have
	// no tenant boundary.
	ProjectOrgID *string
}

type ChatMessage struct {
	ID            int64
	SessionID     string
	Role          string
	Content       string
	CitationsJSON *string
	CreatedAt     time.Time
}

type AuditLog struct {
	ID         int64
	RequestID  string
	UserID     *string
	Action     string
	TargetType string
	TargetID   *string
	Meta       map[string]any
	CreatedAt  time.Time
}

// ProjectUpdate carries the PATCH-able project fields; nil means unchanged.
type ProjectUpdate struct {
	Name         *string
	Jurisdiction *string
	FacilityType *string
	Stage        *string
}

// DocumentUpdate carries the PATCH-able document fields; nil means unchanged.
// ClearDifyDocumentID distinguishes "set to null" from "leave alone".
type DocumentUpdate struct {
	Name               *string
	Type               *string
	Size               *int64
	Status             *string
	DifyDocumentID      *string
	ClearDifyDocumentID bool
}

// AuditFilter narrows audit trail listings.
type AuditFilter struct {
	Action     string
	TargetType string
	UserID     string
	Limit      int
}
