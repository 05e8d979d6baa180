// Package identity resolves who is calling. Two resolvers exist: the header
// resolver trusts identity headers injected by an authenticating edge proxy,
// the token resolver verifies bearer tokens issued by this service. The
// orchestration layer depends only on the Resolver interface, so deployments
// pick the trust model without touching request handling.
package identity

import (
	"context"
	"net/http"
	"strings"

	"compass/api/internal/auth"
	"compass/api/internal/rbac"
	"compass/api/internal/store"
)

// Identity is the resolved caller context. UserID and OrgID may be empty;
// Role always holds a valid role, defaulting to the least-privileged USER.
type Identity struct {
	UserID string
	Name   string
	Role   rbac.Role
	OrgID  string
}

// Anonymous is the identity of a caller with no usable credentials.
func Anonymous() Identity {
	return Identity{Role: rbac.RoleUser}
}

type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderResolver reads x-user-id, x-user-role and x-org-id verbatim. It
// never fails: missing or garbage fields degrade to anonymous USER. Only
// deploy it behind a gateway that strips and re-injects these headers.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	return Identity{
		UserID: strings.TrimSpace(r.Header.Get("x-user-id")),
		Role:   rbac.Normalize(strings.ToUpper(strings.TrimSpace(r.Header.Get("x-user-role")))),
		OrgID:  strings.TrimSpace(r.Header.Get("x-org-id")),
	}, nil
}

// UserSource is the store surface the token resolver needs.
type UserSource interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenResolver verifies a bearer access token and loads the user's current
// role and organization from the store, so a role change or revocation takes
// effect before the token expires.
type TokenResolver struct {
	Secret []byte
	Users  UserSource
}

func (t *TokenResolver) Resolve(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Anonymous(), nil
	}

	claims, err := auth.ParseToken(t.Secret, token)
	if err != nil {
		return Identity{}, err
	}
	revoked, err := t.Users.IsAccessTokenRevoked(r.Context(), claims.JTI)
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, auth.ErrInvalidToken
	}

	user, err := t.Users.GetUserByID(r.Context(), claims.Sub)
	if err != nil {
		return Identity{}, err
	}
	if user.Status == "inactive" {
		return Identity{}, auth.ErrInvalidToken
	}

	ident := Identity{
		UserID: user.ID,
		Name:   user.Name,
		Role:   rbac.Normalize(user.Role),
	}
	if user.OrgID != nil {
		ident.OrgID = *user.OrgID
	}
	return ident, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
