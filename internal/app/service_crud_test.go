package app

import (
	"context"
	"errors"
	"testing"

	"compass/api/internal/audit"
	"compass/api/internal/config"
	"compass/api/internal/store"
)

func newCrudService(fs *fakeStore, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Service{cfg: config.Config{}, store: fs, audit: sink}
}

func expectDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestCreateProjectRequiresAdmin(t *testing.T) {
	svc := newCrudService(&fakeStore{}, nil)

	_, err := svc.CreateProject(context.Background(), memberCaller("org_a"), ProjectInput{Name: "Plant A"})
	expectDomainError(t, err, 403, "FORBIDDEN")

	payload, err := svc.CreateProject(context.Background(), adminCaller(), ProjectInput{
		Name:         "Plant A",
		Jurisdiction: "DE",
		FacilityType: "PWR",
		OrgID:        "org_a",
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if payload["stage"] != "INITIATION" {
		t.Fatalf("expected default stage INITIATION, got %v", payload["stage"])
	}
	if payload["orgId"] != "org_a" {
		t.Fatalf("expected orgId org_a, got %v", payload["orgId"])
	}
}

func TestCreateProjectValidation(t *testing.T) {
	svc := newCrudService(&fakeStore{}, nil)

	_, err := svc.CreateProject(context.Background(), adminCaller(), ProjectInput{Name: "  ", Jurisdiction: "DE", FacilityType: "PWR", OrgID: "org_a"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	// Jurisdiction and facilityType are NOT NULL columns; their absence
	// has to fail before the insert.
	_, err = svc.CreateProject(context.Background(), adminCaller(), ProjectInput{Name: "Plant", FacilityType: "PWR", OrgID: "org_a"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	_, err = svc.CreateProject(context.Background(), adminCaller(), ProjectInput{Name: "Plant", Jurisdiction: "DE", OrgID: "org_a"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	_, err = svc.CreateProject(context.Background(), adminCaller(), ProjectInput{Name: "Plant", Jurisdiction: "DE", FacilityType: "PWR", Stage: "LAUNCHED", OrgID: "org_a"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	_, err = svc.CreateProject(context.Background(), adminCaller(), ProjectInput{Name: "Plant", Jurisdiction: "DE", FacilityType: "PWR"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")
}

func TestGetProjectEnforcesTenant(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, OrgID: "org_b", Name: "Other Plant"}, nil
		},
	}
	sink := &recordingSink{}
	svc := newCrudService(fs, sink)

	_, err := svc.GetProject(context.Background(), memberCaller("org_a"), "prj_1")
	expectDomainError(t, err, 403, "FORBIDDEN")

	if _, err := svc.GetProject(context.Background(), memberCaller("org_b"), "prj_1"); err != nil {
		t.Fatalf("same-tenant read failed: %v", err)
	}
	if _, err := svc.GetProject(context.Background(), adminCaller(), "prj_1"); err != nil {
		t.Fatalf("admin cross-tenant read failed: %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected audit events only for successful reads, got %v", sink.actions())
	}
	for _, e := range sink.events {
		if e.Action != "PROJECT_READ" {
			t.Fatalf("expected PROJECT_READ, got %s", e.Action)
		}
	}
}

func TestListProjectsScopesNonAdminToOwnOrg(t *testing.T) {
	var requestedOrg string
	fs := &fakeStore{
		listProjectsFn: func(_ context.Context, orgID string) ([]store.Project, error) {
			requestedOrg = orgID
			return []store.Project{{ID: "prj_1", OrgID: orgID}}, nil
		},
	}
	svc := newCrudService(fs, nil)

	if _, err := svc.ListProjects(context.Background(), memberCaller("org_a"), ""); err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if requestedOrg != "org_a" {
		t.Fatalf("expected list pinned to caller org, got %q", requestedOrg)
	}

	// A non-admin asking for a different tenant is refused outright.
	_, err := svc.ListProjects(context.Background(), memberCaller("org_a"), "org_b")
	expectDomainError(t, err, 403, "FORBIDDEN")

	// Admin may query across tenants.
	if _, err := svc.ListProjects(context.Background(), adminCaller(), ""); err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if requestedOrg != "" {
		t.Fatalf("expected unscoped admin list, got %q", requestedOrg)
	}

	// A caller with no org context at all is a bad request, not a
	// forbidden one.
	_, err = svc.ListProjects(context.Background(), memberCaller(""), "")
	expectDomainError(t, err, 400, "VALIDATION_ERROR")
}

func TestCreateDocumentValidatesEnums(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, OrgID: "org_a"}, nil
		},
	}
	svc := newCrudService(fs, nil)

	_, err := svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "permit", Type: "EXE"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	_, err = svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "permit", Type: "PDF", Status: "LOST"})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	_, err = svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "permit", Type: "PDF", Size: -1})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	payload, err := svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "permit", Type: "PDF", Size: 1024})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if payload["status"] != "UPLOADED" {
		t.Fatalf("expected default status UPLOADED, got %v", payload["status"])
	}
}

func TestCreateDocumentNormalizesType(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, OrgID: "org_a"}, nil
		},
	}
	svc := newCrudService(fs, nil)

	payload, err := svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "permit", Type: " docx "})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if payload["type"] != "DOCX" {
		t.Fatalf("expected lowercase input stored as DOCX, got %v", payload["type"])
	}

	// Omitted type falls back to the schema default.
	payload, err = svc.CreateDocument(context.Background(), adminCaller(), DocumentInput{ProjectID: "prj_1", Name: "site survey"})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if payload["type"] != "PDF" {
		t.Fatalf("expected missing type to default to PDF, got %v", payload["type"])
	}
}

func TestDocumentTenantResolvedThroughProject(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			// OrgID comes from the owning project's row, never the caller.
			return store.Document{ID: documentID, ProjectID: "prj_1", OrgID: "org_b", Name: "permit.pdf"}, nil
		},
	}
	svc := newCrudService(fs, nil)

	_, err := svc.GetDocument(context.Background(), memberCaller("org_a"), "doc_1")
	expectDomainError(t, err, 403, "FORBIDDEN")

	if _, err := svc.GetDocument(context.Background(), memberCaller("org_b"), "doc_1"); err != nil {
		t.Fatalf("same-tenant document read failed: %v", err)
	}
}

func TestUpdateProjectRejectsUnknownStage(t *testing.T) {
	svc := newCrudService(&fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, OrgID: "org_a"}, nil
		},
	}, nil)

	stage := "DEMOLISHED"
	_, err := svc.UpdateProject(context.Background(), adminCaller(), "prj_1", store.ProjectUpdate{Stage: &stage})
	expectDomainError(t, err, 400, "VALIDATION_ERROR")

	for _, good := range []string{"LICENSING", "OPERATION", "DECOMMISSIONING"} {
		stage := good
		if _, err := svc.UpdateProject(context.Background(), adminCaller(), "prj_1", store.ProjectUpdate{Stage: &stage}); err != nil {
			t.Fatalf("UpdateProject(%s) error = %v", good, err)
		}
	}
}

func TestDeleteProjectAuditsAndRequiresAdmin(t *testing.T) {
	deleted := 0
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, OrgID: "org_a", Name: "Plant A"}, nil
		},
		deleteProjectFn: func(context.Context, string) error {
			deleted++
			return nil
		},
	}
	sink := &recordingSink{}
	svc := newCrudService(fs, sink)

	_, err := svc.DeleteProject(context.Background(), memberCaller("org_a"), "prj_1")
	expectDomainError(t, err, 403, "FORBIDDEN")
	if deleted != 0 {
		t.Fatal("non-admin delete must not reach the store")
	}

	if _, err := svc.DeleteProject(context.Background(), adminCaller(), "prj_1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one delete, got %d", deleted)
	}
	if len(sink.events) != 1 || sink.events[0].Action != "PROJECT_DELETE" {
		t.Fatalf("expected PROJECT_DELETE audit event, got %v", sink.actions())
	}
}

func TestAuditTrailAdminOnly(t *testing.T) {
	fs := &fakeStore{
		listAuditLogsFn: func(_ context.Context, filter store.AuditFilter) ([]store.AuditLog, error) {
			return []store.AuditLog{{ID: 1, RequestID: "req-1", Action: "PROJECT_CREATE", TargetType: "project"}}, nil
		},
	}
	svc := newCrudService(fs, nil)

	_, err := svc.ListAuditTrail(context.Background(), memberCaller("org_a"), store.AuditFilter{})
	expectDomainError(t, err, 403, "FORBIDDEN")

	payload, err := svc.ListAuditTrail(context.Background(), adminCaller(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("ListAuditTrail() error = %v", err)
	}
	entries := payload["entries"].([]map[string]any)
	if len(entries) != 1 || entries[0]["requestId"] != "req-1" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestUpdateUserAccessNormalizesRole(t *testing.T) {
	var gotRole, gotStatus *string
	fs := &fakeStore{
		updateUserAccessFn: func(_ context.Context, userID string, role, status *string) (store.User, error) {
			gotRole, gotStatus = role, status
			user := store.User{ID: userID, Role: "USER", Status: "active"}
			if role != nil {
				user.Role = *role
			}
			if status != nil {
				user.Status = *status
			}
			return user, nil
		},
	}
	svc := newCrudService(fs, nil)

	role := "superuser"
	if _, err := svc.UpdateUserAccess(context.Background(), adminCaller(), "usr_1", &role, nil); err != nil {
		t.Fatalf("UpdateUserAccess() error = %v", err)
	}
	if gotRole == nil || *gotRole != "USER" {
		t.Fatalf("expected unknown role to normalize to USER, got %v", gotRole)
	}

	// Status is stored lowercase, matching the users table constraint.
	status := " Inactive "
	if _, err := svc.UpdateUserAccess(context.Background(), adminCaller(), "usr_1", nil, &status); err != nil {
		t.Fatalf("UpdateUserAccess() error = %v", err)
	}
	if gotStatus == nil || *gotStatus != "inactive" {
		t.Fatalf("expected status normalized to inactive, got %v", gotStatus)
	}

	bad := "SUSPENDED"
	_, err := svc.UpdateUserAccess(context.Background(), adminCaller(), "usr_1", nil, &bad)
	expectDomainError(t, err, 400, "VALIDATION_ERROR")
}
