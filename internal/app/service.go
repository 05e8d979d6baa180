package app

import (
	"context"
	"time"

	"compass/api/internal/assistant"
	"compass/api/internal/audit"
	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/blobstore"
	"compass/api/internal/config"
	"compass/api/internal/email"
	"compass/api/internal/export"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	OrgID        string
	JTI          string
	ExpiresAt    time.Time
}

// The enum values mirror the CHECK constraints in 0001_init.up.sql; a value
// that passes validation here must also pass the database.
var allowedProjectStages = map[string]struct{}{
	"INITIATION":      {},
	"LICENSING":       {},
	"CONSTRUCTION":    {},
	"OPERATION":       {},
	"DECOMMISSIONING": {},
}

var allowedDocumentTypes = map[string]struct{}{
	"PDF":  {},
	"DOCX": {},
	"XLSX": {},
	"WEB":  {},
}

var allowedDocumentStatuses = map[string]struct{}{
	"UPLOADED": {},
	"INDEXING": {},
	"INDEXED":  {},
	"ERROR":    {},
}

type dataStore interface {
	GetOrganization(context.Context, string) (store.Organization, error)
	ListOrganizations(context.Context) ([]store.Organization, error)
	InsertOrganization(context.Context, store.Organization) (store.Organization, error)
	UpsertOrganizationBySlug(context.Context, string, string) (store.Organization, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	UpsertUserByEmail(context.Context, string, string, string, *string) (store.User, error)
	ListUsers(context.Context, string) ([]store.User, error)
	UpdateUserAccess(context.Context, string, *string, *string) (store.User, error)
	ListProjects(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProject(context.Context, string, store.ProjectUpdate) (store.Project, error)
	DeleteProject(context.Context, string) error
	ListDocuments(context.Context, string, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) (store.Document, error)
	UpdateDocument(context.Context, string, store.DocumentUpdate) (store.Document, error)
	SetDocumentStorage(context.Context, string, string, int64) error
	DeleteDocument(context.Context, string) error
	GetChatSession(context.Context, string) (store.ChatSession, error)
	InsertChatSession(context.Context, *string, string) (store.ChatSession, error)
	ListSessionMessages(context.Context, string) ([]store.ChatMessage, error)
	InsertMessagePair(context.Context, store.ChatMessage, store.ChatMessage) error
	ListAuditLogs(context.Context, store.AuditFilter) ([]store.AuditLog, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis when configured, otherwise the
// primary Postgres store.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type upstreamClient interface {
	Send(ctx context.Context, input assistant.SendInput) (assistant.Reply, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	upstream upstreamClient
	audit    audit.Sink
	search   *search.Service
	blobs    *blobstore.Store
	exporter *export.Service
	authSvc  *authpw.Service
	emailSvc *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, upstream *assistant.Client, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		upstream: upstream,
		audit:    audit.NewStoreSink(dataStore),
		search:   searchService,
	}
}

// NewWithSessionStore is New with refresh sessions held in a dedicated store
// (Redis) instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessionStore refreshStore, upstream *assistant.Client, searchService *search.Service) *Service {
	service := New(cfg, dataStore, upstream, searchService)
	service.sessions = sessionStore
	return service
}

func (s *Service) SetBlobStore(blobs *blobstore.Store) {
	s.blobs = blobs
}

func (s *Service) SetExportService(exporter *export.Service) {
	s.exporter = exporter
}

func (s *Service) SetAuthServices(authSvc *authpw.Service, emailSvc *email.Service) {
	s.authSvc = authSvc
	s.emailSvc = emailSvc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authSvc
}

func (s *Service) EmailService() *email.Service {
	return s.emailSvc
}

func (s *Service) SMTPConfigured() bool {
	return s.emailSvc != nil && s.emailSvc.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Bootstrap seeds the default organization and admin account on first boot.
// Both writes are idempotent upserts, so restarts are safe.
func (s *Service) Bootstrap(ctx context.Context) error {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	if len(orgs) > 0 {
		return nil
	}

	slug := s.cfg.SeedOrgSlug
	if slug == "" {
		slug = "compass"
	}
	org, err := s.store.UpsertOrganizationBySlug(ctx, slug, s.cfg.SeedOrgName)
	if err != nil {
		return err
	}

	_, err = s.store.UpsertUserByEmail(ctx, s.cfg.SeedAdminEmail, s.cfg.SeedAdminName, string(rbac.RoleAdmin), &org.ID)
	return err
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	claims := auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	}
	if user.OrgID != nil {
		claims.Org = *user.OrgID
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		OrgID:        claims.Org,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.Status == "inactive" {
		return Session{}, auth.ErrInvalidToken
	}

	session := Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}
	if user.OrgID != nil {
		session.OrgID = *user.OrgID
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
