package app

import (
	"context"
	"testing"
	"time"

	"compass/api/internal/audit"
	"compass/api/internal/auth"
	"compass/api/internal/config"
	"compass/api/internal/store"
)

type fakeRefreshStore struct {
	sessions map[string]store.User
	revoked  []string
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{sessions: make(map[string]store.User)}
}

func (f *fakeRefreshStore) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeRefreshStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

func (f *fakeRefreshStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.revoked = append(f.revoked, tokenHash)
	delete(f.sessions, tokenHash)
	return nil
}

func sessionConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func newSessionService(fs *fakeStore, refresh *fakeRefreshStore) *Service {
	return &Service{cfg: sessionConfig(), store: fs, sessions: refresh, audit: audit.Discard{}}
}

func TestCreateSessionIssuesVerifiableToken(t *testing.T) {
	orgID := "org_a"
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Name: "Dana", Role: "ADMIN", OrgID: &orgID, Status: "active"}, nil
		},
	}
	refresh := newFakeRefreshStore()
	svc := newSessionService(fs, refresh)

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if session.OrgID != "org_a" {
		t.Fatalf("expected org claim, got %q", session.OrgID)
	}
	if len(refresh.sessions) != 1 {
		t.Fatalf("expected one stored refresh session, got %d", len(refresh.sessions))
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.Role != "ADMIN" || parsed.OrgID != "org_a" {
		t.Fatalf("unexpected parsed session: %+v", parsed)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Name: "Dana", Role: "USER", Status: "active"}, nil
		},
	}
	refresh := newFakeRefreshStore()
	svc := newSessionService(fs, refresh)

	first, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}
	if len(refresh.revoked) != 1 {
		t.Fatalf("expected old refresh session revoked, got %v", refresh.revoked)
	}

	// The rotated-out token no longer works.
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected stale refresh token to fail")
	}
}

func TestSessionFromTokenRejectsDisabledUser(t *testing.T) {
	status := "active"
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Role: "USER", Status: status}, nil
		},
	}
	svc := newSessionService(fs, newFakeRefreshStore())

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	status = "inactive"
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected disabled account to be rejected")
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	fs := &fakeStore{}
	refresh := newFakeRefreshStore()
	svc := newSessionService(fs, refresh)

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(refresh.revoked) != 1 {
		t.Fatalf("expected refresh session revoked, got %v", refresh.revoked)
	}
}

func TestBootstrapSeedsDefaultOrgOnce(t *testing.T) {
	seededOrgs := 0
	seededUsers := 0
	fs := &fakeStore{
		upsertOrgBySlugFn: func(_ context.Context, slug, name string) (store.Organization, error) {
			seededOrgs++
			return store.Organization{ID: "org_seed", Slug: slug, Name: name}, nil
		},
		upsertUserByEmailFn: func(_ context.Context, userEmail, name, role string, orgID *string) (store.User, error) {
			seededUsers++
			if role != "ADMIN" {
				t.Fatalf("expected seed admin role, got %s", role)
			}
			if orgID == nil || *orgID != "org_seed" {
				t.Fatalf("expected seed admin bound to seed org, got %v", orgID)
			}
			return store.User{ID: "usr_seed", Email: userEmail, Name: name, Role: role, OrgID: orgID}, nil
		},
	}
	svc := &Service{cfg: config.Config{SeedAdminEmail: "admin@compass.local", SeedAdminName: "Admin", SeedOrgName: "Compass"}, store: fs, audit: audit.Discard{}}

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if seededOrgs != 1 || seededUsers != 1 {
		t.Fatalf("expected one org and one user seeded, got %d/%d", seededOrgs, seededUsers)
	}

	// With an existing organization the bootstrap is a no-op.
	fs.listOrganizationsFn = func(context.Context) ([]store.Organization, error) {
		return []store.Organization{{ID: "org_seed"}}, nil
	}
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if seededOrgs != 1 {
		t.Fatalf("expected no reseeding, got %d", seededOrgs)
	}
}
