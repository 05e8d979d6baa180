package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Organizations

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) (Organization, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (slug, name)
		VALUES ($1, $2)
		RETURNING id, slug, name, created_at, updated_at
	`, org.Slug, org.Name).Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) UpsertOrganizationBySlug(ctx context.Context, slug, name string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name=EXCLUDED.name, updated_at=NOW()
		RETURNING id, slug, name, created_at, updated_at
	`, slug, name).Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("upsert organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_at, updated_at FROM organizations WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, created_at, updated_at FROM organizations ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

// Users

const userColumns = `id, email, name, role, org_id, password_hash, status, is_email_verified,
	verification_token, verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID, &user.PasswordHash,
		&user.Status, &user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, role, org_id, password_hash, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns+`
	`, user.Email, user.Name, user.Role, user.OrgID, user.PasswordHash, user.VerificationToken).
		Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID, &user.PasswordHash,
			&user.Status, &user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
			&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpsertUserByEmail(ctx context.Context, email, name, role string, orgID *string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, role, org_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name=EXCLUDED.name, role=EXCLUDED.role, org_id=EXCLUDED.org_id, updated_at=NOW()
		RETURNING `+userColumns+`
	`, email, name, role, orgID))
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, orgID string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`
	args := []any{}
	if orgID != "" {
		query = `SELECT ` + userColumns + ` FROM users WHERE org_id=$1 ORDER BY created_at DESC`
		args = append(args, orgID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserAccess(ctx context.Context, userID string, role, status *string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET
			role = COALESCE($2, role),
			status = COALESCE($3, status),
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+userColumns+`
	`, userID, role, status))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND expires_at > NOW() AND used_at IS NULL
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Projects

func (s *PostgresStore) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	query := `
		SELECT p.id, p.org_id, p.name, p.jurisdiction, p.facility_type, p.stage, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM documents d WHERE d.project_id = p.id),
			(SELECT COUNT(*) FROM chat_sessions cs WHERE cs.project_id = p.id)
		FROM projects p
	`
	args := []any{}
	if orgID != "" {
		query += ` WHERE p.org_id=$1`
		args = append(args, orgID)
	}
	query += ` ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.Jurisdiction, &item.FacilityType,
			&item.Stage, &item.CreatedAt, &item.UpdatedAt, &item.DocumentCount, &item.SessionCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, jurisdiction, facility_type, stage, created_at, updated_at
		FROM projects WHERE id=$1
	`, projectID).Scan(&item.ID, &item.OrgID, &item.Name, &item.Jurisdiction, &item.FacilityType,
		&item.Stage, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) (Project, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (org_id, name, jurisdiction, facility_type, stage)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, org_id, name, jurisdiction, facility_type, stage, created_at, updated_at
	`, item.OrgID, item.Name, item.Jurisdiction, item.FacilityType, item.Stage).
		Scan(&item.ID, &item.OrgID, &item.Name, &item.Jurisdiction, &item.FacilityType,
			&item.Stage, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, update ProjectUpdate) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name = COALESCE($2, name),
			jurisdiction = COALESCE($3, jurisdiction),
			facility_type = COALESCE($4, facility_type),
			stage = COALESCE($5, stage),
			updated_at = NOW()
		WHERE id=$1
		RETURNING id, org_id, name, jurisdiction, facility_type, stage, created_at, updated_at
	`, projectID, update.Name, update.Jurisdiction, update.FacilityType, update.Stage).
		Scan(&item.ID, &item.OrgID, &item.Name, &item.Jurisdiction, &item.FacilityType,
			&item.Stage, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Documents

const documentColumns = `d.id, d.project_id, d.name, d.type, d.size, d.status,
	d.dify_document_id, d.storage_key, d.created_at, d.updated_at, p.org_id`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Type, &item.Size, &item.Status,
		&item.DifyDocumentID, &item.StorageKey, &item.CreatedAt, &item.UpdatedAt, &item.OrgID)
	return item, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, orgID, projectID string) ([]Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents d
		JOIN projects p ON p.id = d.project_id
	`
	var conditions []string
	var args []any
	if projectID != "" {
		args = append(args, projectID)
		conditions = append(conditions, fmt.Sprintf("d.project_id=$%d", len(args)))
	}
	if orgID != "" {
		args = append(args, orgID)
		conditions = append(conditions, fmt.Sprintf("p.org_id=$%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		JOIN projects p ON p.id = d.project_id
		WHERE d.id=$1
	`, documentID))
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (project_id, name, type, size, status, dify_document_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, name, type, size, status, dify_document_id, storage_key, created_at, updated_at
	`, item.ProjectID, item.Name, item.Type, item.Size, item.Status, item.DifyDocumentID).
		Scan(&item.ID, &item.ProjectID, &item.Name, &item.Type, &item.Size, &item.Status,
			&item.DifyDocumentID, &item.StorageKey, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, update DocumentUpdate) (Document, error) {
	difyID := update.DifyDocumentID
	clearDify := update.ClearDifyDocumentID
	var item Document
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents SET
			name = COALESCE($2, name),
			type = COALESCE($3, type),
			size = COALESCE($4, size),
			status = COALESCE($5, status),
			dify_document_id = CASE WHEN $7 THEN NULL ELSE COALESCE($6, dify_document_id) END,
			updated_at = NOW()
		WHERE id=$1
		RETURNING id, project_id, name, type, size, status, dify_document_id, storage_key, created_at, updated_at
	`, documentID, update.Name, update.Type, update.Size, update.Status, difyID, clearDify).
		Scan(&item.ID, &item.ProjectID, &item.Name, &item.Type, &item.Size, &item.Status,
			&item.DifyDocumentID, &item.StorageKey, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) SetDocumentStorage(ctx context.Context, documentID, storageKey string, size int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET storage_key=$2, size=$3, status='UPLOADED', updated_at=NOW() WHERE id=$1
	`, documentID, storageKey, size)
	if err != nil {
		return fmt.Errorf("set document storage: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Chat sessions and messages

func (s *PostgresStore) GetChatSession(ctx context.Context, sessionID string) (ChatSession, error) {
	var item ChatSession
	err := s.db.QueryRowContext(ctx, `
		SELECT cs.id, cs.project_id, cs.title, cs.created_at, p.org_id
		FROM chat_sessions cs
		LEFT JOIN projects p ON p.id = cs.project_id
		WHERE cs.id=$1
	`, sessionID).Scan(&item.ID, &item.ProjectID, &item.Title, &item.CreatedAt, &item.ProjectOrgID)
	if err != nil {
		return ChatSession{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertChatSession(ctx context.Context, projectID *string, title string) (ChatSession, error) {
	var item ChatSession
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_sessions (project_id, title)
		VALUES ($1, $2)
		RETURNING id, project_id, title, created_at
	`, projectID, title).Scan(&item.ID, &item.ProjectID, &item.Title, &item.CreatedAt)
	if err != nil {
		return ChatSession{}, fmt.Errorf("insert chat session: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSessionMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, citations_json, created_at
		FROM chat_messages
		WHERE session_id=$1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var item ChatMessage
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Role, &item.Content, &item.CitationsJSON, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}

// InsertMessagePair writes one USER and one ASSISTANT message in a single
// transaction. A chat turn either commits both rows or neither; the store
// must never hold an unpaired half of a turn.
func (s *PostgresStore) InsertMessagePair(ctx context.Context, userMsg, assistantMsg ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message pair tx: %w", err)
	}

	const insert = `
		INSERT INTO chat_messages (session_id, role, content, citations_json)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, insert, userMsg.SessionID, userMsg.Role, userMsg.Content, userMsg.CitationsJSON); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, assistantMsg.SessionID, assistantMsg.Role, assistantMsg.Content, assistantMsg.CitationsJSON); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert assistant message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message pair: %w", err)
	}
	return nil
}

// Audit log

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditLog) error {
	var meta []byte
	if entry.Meta != nil {
		encoded, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
		meta = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (request_id, user_id, action, target_type, target_id, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.RequestID, entry.UserID, entry.Action, entry.TargetType, entry.TargetID, meta)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	query := `
		SELECT id, request_id, user_id, action, target_type, target_id, meta_json, created_at
		FROM audit_logs
	`
	var conditions []string
	var args []any
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action=$%d", len(args)))
	}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		conditions = append(conditions, fmt.Sprintf("target_type=$%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLog, 0)
	for rows.Next() {
		var item AuditLog
		var meta []byte
		if err := rows.Scan(&item.ID, &item.RequestID, &item.UserID, &item.Action, &item.TargetType,
			&item.TargetID, &meta, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal audit meta: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return items, nil
}

// Refresh sessions and token revocation (token auth mode)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.role, u.org_id, u.password_hash, u.status, u.is_email_verified,
			u.verification_token, u.verification_expires_at, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
