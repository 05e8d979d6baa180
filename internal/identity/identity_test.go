package identity

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"compass/api/internal/auth"
	"compass/api/internal/rbac"
	"compass/api/internal/store"
)

func TestHeaderResolverReadsIdentityHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("x-user-id", "usr_1")
	req.Header.Set("x-user-role", "admin")
	req.Header.Set("x-org-id", "org_1")

	ident, err := HeaderResolver{}.Resolve(req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident.UserID != "usr_1" || ident.Role != rbac.RoleAdmin || ident.OrgID != "org_1" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestHeaderResolverDefaultsToLeastPrivilege(t *testing.T) {
	tests := []struct {
		name string
		role string
	}{
		{name: "missing role", role: ""},
		{name: "unknown role", role: "superuser"},
		{name: "lowercase user", role: "user"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/chat", nil)
			if tc.role != "" {
				req.Header.Set("x-user-role", tc.role)
			}
			ident, err := HeaderResolver{}.Resolve(req)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if ident.Role != rbac.RoleUser {
				t.Fatalf("expected USER role, got %s", ident.Role)
			}
			if ident.UserID != "" || ident.OrgID != "" {
				t.Fatalf("expected empty user/org, got %+v", ident)
			}
		})
	}
}

type fakeUserSource struct {
	user    store.User
	revoked bool
}

func (f *fakeUserSource) GetUserByID(context.Context, string) (store.User, error) {
	return f.user, nil
}

func (f *fakeUserSource) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return f.revoked, nil
}

func TestTokenResolverLoadsCurrentRoleAndOrg(t *testing.T) {
	secret := []byte("secret")
	orgID := "org_1"
	source := &fakeUserSource{user: store.User{ID: "usr_1", Name: "Dana", Role: "ADMIN", OrgID: &orgID, Status: "active"}}
	resolver := &TokenResolver{Secret: secret, Users: source}

	token, err := auth.IssueToken(secret, auth.Claims{Sub: "usr_1", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	ident, err := resolver.Resolve(req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident.UserID != "usr_1" || ident.Role != rbac.RoleAdmin || ident.OrgID != "org_1" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestTokenResolverRejectsRevokedToken(t *testing.T) {
	secret := []byte("secret")
	resolver := &TokenResolver{Secret: secret, Users: &fakeUserSource{revoked: true}}

	token, err := auth.IssueToken(secret, auth.Claims{Sub: "usr_1", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := resolver.Resolve(req); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestTokenResolverWithoutTokenIsAnonymous(t *testing.T) {
	resolver := &TokenResolver{Secret: []byte("secret"), Users: &fakeUserSource{}}
	ident, err := resolver.Resolve(httptest.NewRequest("GET", "/api/projects", nil))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ident.UserID != "" || ident.Role != rbac.RoleUser {
		t.Fatalf("expected anonymous identity, got %+v", ident)
	}
}
