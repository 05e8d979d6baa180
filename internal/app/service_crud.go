package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"compass/api/internal/audit"
	"compass/api/internal/identity"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

func (s *Service) requireRole(caller identity.Identity, action rbac.Action) error {
	if !rbac.Can(caller.Role, action) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// assertOrgAccess checks the caller may touch a resource owned by orgID.
// The check always runs against the resource's resolved organization, never
// against a client-supplied tenant claim. ADMIN crosses tenants.
func (s *Service) assertOrgAccess(caller identity.Identity, orgID string) error {
	if caller.Role == rbac.RoleAdmin {
		return nil
	}
	if caller.OrgID == "" || caller.OrgID != orgID {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, caller identity.Identity, action, targetType, targetID string, meta map[string]any) {
	s.audit.Record(ctx, audit.Event{
		RequestID:  requestIDFrom(ctx),
		UserID:     caller.UserID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Meta:       meta,
	})
}

// scopeOrgID picks the tenant for list queries. Admins may query across
// tenants or target one explicitly; everyone else is pinned to their own.
func (s *Service) scopeOrgID(caller identity.Identity, requested string) (string, error) {
	if caller.Role == rbac.RoleAdmin {
		return requested, nil
	}
	if caller.OrgID == "" {
		return "", domainError(400, "VALIDATION_ERROR", "Organization context required", nil)
	}
	if requested != "" && requested != caller.OrgID {
		return "", domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return caller.OrgID, nil
}

// Projects

type ProjectInput struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	FacilityType string `json:"facilityType"`
	Stage        string `json:"stage"`
	OrgID        string `json:"orgId"`
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"orgId":         p.OrgID,
		"name":          p.Name,
		"jurisdiction":  p.Jurisdiction,
		"facilityType":  p.FacilityType,
		"stage":         p.Stage,
		"documentCount": p.DocumentCount,
		"sessionCount":  p.SessionCount,
		"createdAt":     p.CreatedAt,
		"updatedAt":     p.UpdatedAt,
	}
}

func (s *Service) ListProjects(ctx context.Context, caller identity.Identity, orgID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	scope, err := s.scopeOrgID(caller, orgID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, scope)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	s.recordAudit(ctx, caller, "PROJECT_LIST", "project", "", nil)
	return map[string]any{"projects": items}, nil
}

func (s *Service) CreateProject(ctx context.Context, caller identity.Identity, input ProjectInput) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	jurisdiction := strings.TrimSpace(input.Jurisdiction)
	facilityType := strings.TrimSpace(input.FacilityType)
	if name == "" || jurisdiction == "" || facilityType == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "name, jurisdiction and facilityType are required", nil)
	}
	stage := input.Stage
	if stage == "" {
		stage = "INITIATION"
	}
	if _, ok := allowedProjectStages[stage]; !ok {
		return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown stage %q", stage), nil)
	}
	orgID := input.OrgID
	if orgID == "" {
		orgID = caller.OrgID
	}
	if orgID == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "orgId is required", nil)
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	project, err := s.store.InsertProject(ctx, store.Project{
		ID:           util.NewID("prj"),
		OrgID:        orgID,
		Name:         name,
		Jurisdiction: jurisdiction,
		FacilityType: facilityType,
		Stage:        stage,
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, caller, "PROJECT_CREATE", "project", project.ID, map[string]any{"name": project.Name})
	s.indexProject(project)
	return projectPayload(project), nil
}

func (s *Service) GetProject(ctx context.Context, caller identity.Identity, projectID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, project.OrgID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "PROJECT_READ", "project", project.ID, nil)
	return projectPayload(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, caller identity.Identity, projectID string, update store.ProjectUpdate) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if update.Stage != nil {
		if _, ok := allowedProjectStages[*update.Stage]; !ok {
			return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown stage %q", *update.Stage), nil)
		}
	}
	existing, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, existing.OrgID); err != nil {
		return nil, err
	}

	project, err := s.store.UpdateProject(ctx, projectID, update)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "PROJECT_UPDATE", "project", project.ID, nil)
	s.indexProject(project)
	return projectPayload(project), nil
}

func (s *Service) DeleteProject(ctx context.Context, caller identity.Identity, projectID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, project.OrgID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "PROJECT_DELETE", "project", projectID, map[string]any{"name": project.Name})
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) indexProject(p store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:           p.ID,
		Name:         p.Name,
		Jurisdiction: p.Jurisdiction,
		FacilityType: p.FacilityType,
		Stage:        p.Stage,
		OrgID:        p.OrgID,
	})
}

// Documents

type DocumentInput struct {
	ProjectID      string  `json:"projectId"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Size           int64   `json:"size"`
	Status         string  `json:"status"`
	DifyDocumentID *string `json:"difyDocumentId"`
}

func documentPayload(d store.Document) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"projectId":      d.ProjectID,
		"name":           d.Name,
		"type":           d.Type,
		"size":           d.Size,
		"status":         d.Status,
		"difyDocumentId": d.DifyDocumentID,
		"createdAt":      d.CreatedAt,
		"updatedAt":      d.UpdatedAt,
	}
}

func (s *Service) ListDocuments(ctx context.Context, caller identity.Identity, orgID, projectID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	if projectID != "" {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if err := s.assertOrgAccess(caller, project.OrgID); err != nil {
			return nil, err
		}
		orgID = project.OrgID
	} else {
		scope, err := s.scopeOrgID(caller, orgID)
		if err != nil {
			return nil, err
		}
		orgID = scope
	}

	documents, err := s.store.ListDocuments(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, d := range documents {
		items = append(items, documentPayload(d))
	}
	s.recordAudit(ctx, caller, "DOCUMENT_LIST", "document", "", nil)
	return map[string]any{"documents": items}, nil
}

func (s *Service) CreateDocument(ctx context.Context, caller identity.Identity, input DocumentInput) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "name is required", nil)
	}
	if input.ProjectID == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "projectId is required", nil)
	}
	if input.Size < 0 {
		return nil, domainError(400, "VALIDATION_ERROR", "size must be non-negative", nil)
	}
	docType := strings.ToUpper(strings.TrimSpace(input.Type))
	if docType == "" {
		docType = "PDF"
	}
	if _, ok := allowedDocumentTypes[docType]; !ok {
		return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown document type %q", input.Type), nil)
	}
	status := input.Status
	if status == "" {
		status = "UPLOADED"
	}
	if _, ok := allowedDocumentStatuses[status]; !ok {
		return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown document status %q", status), nil)
	}

	project, err := s.store.GetProject(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, project.OrgID); err != nil {
		return nil, err
	}

	document, err := s.store.InsertDocument(ctx, store.Document{
		ID:             util.NewID("doc"),
		ProjectID:      project.ID,
		Name:           name,
		Type:           docType,
		Size:           input.Size,
		Status:         status,
		DifyDocumentID: input.DifyDocumentID,
	})
	if err != nil {
		return nil, err
	}
	document.OrgID = project.OrgID

	s.recordAudit(ctx, caller, "DOCUMENT_CREATE", "document", document.ID, map[string]any{"name": document.Name, "projectId": project.ID})
	s.indexDocument(document)
	return documentPayload(document), nil
}

func (s *Service) GetDocument(ctx context.Context, caller identity.Identity, documentID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, document.OrgID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "DOCUMENT_READ", "document", document.ID, nil)
	return documentPayload(document), nil
}

func (s *Service) UpdateDocument(ctx context.Context, caller identity.Identity, documentID string, update store.DocumentUpdate) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if update.Type != nil {
		docType := strings.ToUpper(strings.TrimSpace(*update.Type))
		if _, ok := allowedDocumentTypes[docType]; !ok {
			return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown document type %q", *update.Type), nil)
		}
		update.Type = &docType
	}
	if update.Status != nil {
		if _, ok := allowedDocumentStatuses[*update.Status]; !ok {
			return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown document status %q", *update.Status), nil)
		}
	}
	if update.Size != nil && *update.Size < 0 {
		return nil, domainError(400, "VALIDATION_ERROR", "size must be non-negative", nil)
	}
	existing, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, existing.OrgID); err != nil {
		return nil, err
	}

	document, err := s.store.UpdateDocument(ctx, documentID, update)
	if err != nil {
		return nil, err
	}
	document.OrgID = existing.OrgID

	s.recordAudit(ctx, caller, "DOCUMENT_UPDATE", "document", document.ID, nil)
	s.indexDocument(document)
	return documentPayload(document), nil
}

func (s *Service) DeleteDocument(ctx context.Context, caller identity.Identity, documentID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, document.OrgID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.blobs != nil && document.StorageKey != nil {
		if err := s.blobs.Remove(ctx, *document.StorageKey); err != nil {
			// The row is gone; an orphaned blob is not worth failing over.
			s.recordAudit(ctx, caller, "DOCUMENT_DELETE", "document", documentID, map[string]any{"blobError": err.Error()})
			if s.search != nil {
				s.search.DeleteDocument(documentID)
			}
			return map[string]any{"ok": true}, nil
		}
	}
	s.recordAudit(ctx, caller, "DOCUMENT_DELETE", "document", documentID, map[string]any{"name": document.Name})
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) indexDocument(d store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		Status:    d.Status,
		ProjectID: d.ProjectID,
		OrgID:     d.OrgID,
	})
}

// UploadDocumentFile streams a file body into object storage and records the
// storage key and the actual stored size on the document row.
func (s *Service) UploadDocumentFile(ctx context.Context, caller identity.Identity, documentID string, body io.Reader, size int64, contentType string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, domainError(503, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, document.OrgID); err != nil {
		return nil, err
	}

	key := "documents/" + document.ID
	if err := s.blobs.Put(ctx, key, body, size, contentType); err != nil {
		return nil, err
	}
	if err := s.store.SetDocumentStorage(ctx, document.ID, key, size); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "DOCUMENT_UPLOAD", "document", document.ID, map[string]any{"size": size})
	return map[string]any{"ok": true, "storageKey": key, "size": size}, nil
}

// DownloadDocumentFile opens the stored file for streaming to the client.
// The caller must close the reader.
func (s *Service) DownloadDocumentFile(ctx context.Context, caller identity.Identity, documentID string) (io.ReadCloser, store.Document, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, store.Document{}, err
	}
	if s.blobs == nil {
		return nil, store.Document{}, domainError(503, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, store.Document{}, err
	}
	if err := s.assertOrgAccess(caller, document.OrgID); err != nil {
		return nil, store.Document{}, err
	}
	if document.StorageKey == nil {
		return nil, store.Document{}, domainError(404, "NOT_FOUND", "Document has no stored file", nil)
	}

	reader, err := s.blobs.Get(ctx, *document.StorageKey)
	if err != nil {
		return nil, store.Document{}, err
	}
	s.recordAudit(ctx, caller, "DOCUMENT_DOWNLOAD", "document", document.ID, nil)
	return reader, document, nil
}

// Organizations

func organizationPayload(org store.Organization) map[string]any {
	return map[string]any{
		"id":        org.ID,
		"slug":      org.Slug,
		"name":      org.Name,
		"createdAt": org.CreatedAt,
		"updatedAt": org.UpdatedAt,
	}
}

func (s *Service) ListOrganizations(ctx context.Context, caller identity.Identity) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(orgs))
	for _, org := range orgs {
		items = append(items, organizationPayload(org))
	}
	s.recordAudit(ctx, caller, "ORG_LIST", "organization", "", nil)
	return map[string]any{"organizations": items}, nil
}

func (s *Service) CreateOrganization(ctx context.Context, caller identity.Identity, slug, name string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	name = strings.TrimSpace(name)
	if slug == "" || name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "slug and name are required", nil)
	}

	org, err := s.store.InsertOrganization(ctx, store.Organization{
		ID:   util.NewID("org"),
		Slug: slug,
		Name: name,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "ORG_CREATE", "organization", org.ID, map[string]any{"slug": org.Slug})
	return organizationPayload(org), nil
}

func (s *Service) GetOrganization(ctx context.Context, caller identity.Identity, orgID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	if err := s.assertOrgAccess(caller, orgID); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "ORG_READ", "organization", org.ID, nil)
	return organizationPayload(org), nil
}

// Users

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":              user.ID,
		"email":           user.Email,
		"name":            user.Name,
		"role":            user.Role,
		"orgId":           user.OrgID,
		"status":          user.Status,
		"isEmailVerified": user.IsEmailVerified,
		"createdAt":       user.CreatedAt,
	}
}

func (s *Service) ListUsers(ctx context.Context, caller identity.Identity, orgID string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	s.recordAudit(ctx, caller, "USER_LIST", "user", "", nil)
	return map[string]any{"users": items}, nil
}

// InviteUser creates or refreshes an account by email. Intended for admins
// onboarding members into an organization ahead of first sign-in.
func (s *Service) InviteUser(ctx context.Context, caller identity.Identity, userEmail, name, role string, orgID *string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	userEmail = strings.ToLower(strings.TrimSpace(userEmail))
	if userEmail == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "email is required", nil)
	}
	normalizedRole := string(rbac.Normalize(role))

	user, err := s.store.UpsertUserByEmail(ctx, userEmail, strings.TrimSpace(name), normalizedRole, orgID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "USER_CREATE", "user", user.ID, map[string]any{"email": user.Email, "role": user.Role})
	return userPayload(user), nil
}

func (s *Service) UpdateUserAccess(ctx context.Context, caller identity.Identity, userID string, role, status *string) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if role != nil {
		normalized := string(rbac.Normalize(*role))
		role = &normalized
	}
	if status != nil {
		normalized := strings.ToLower(strings.TrimSpace(*status))
		if normalized != "active" && normalized != "inactive" {
			return nil, domainError(400, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q", *status), nil)
		}
		status = &normalized
	}

	user, err := s.store.UpdateUserAccess(ctx, userID, role, status)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, caller, "USER_UPDATE", "user", user.ID, map[string]any{"role": user.Role, "status": user.Status})
	return userPayload(user), nil
}

// Audit trail

func (s *Service) ListAuditTrail(ctx context.Context, caller identity.Identity, filter store.AuditFilter) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	logs, err := s.store.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		items = append(items, map[string]any{
			"id":         entry.ID,
			"requestId":  entry.RequestID,
			"userId":     entry.UserID,
			"action":     entry.Action,
			"targetType": entry.TargetType,
			"targetId":   entry.TargetID,
			"meta":       entry.Meta,
			"createdAt":  entry.CreatedAt,
		})
	}
	return map[string]any{"entries": items}, nil
}

// Search

func (s *Service) Search(ctx context.Context, caller identity.Identity, text, filterType, orgID string, limit, offset int) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.search == nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	scope, err := s.scopeOrgID(caller, orgID)
	if err != nil {
		return nil, err
	}

	response := s.search.Search(search.Query{
		Text:        text,
		FilterType:  search.ResultType(filterType),
		FilterOrgID: scope,
		Limit:       limit,
		Offset:      offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}

// ReindexSearch rebuilds the search indexes from Postgres.
func (s *Service) ReindexSearch(ctx context.Context, caller identity.Identity) (map[string]any, error) {
	if err := s.requireRole(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if s.search == nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	s.search.ReindexAllFromPG(ctx)
	s.recordAudit(ctx, caller, "SEARCH_REINDEX", "search", "", nil)
	return map[string]any{"ok": true}, nil
}
