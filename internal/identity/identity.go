// Package identity defines the identity provider contract and its adapters.
//
// There is no ambient session: the caller's session travels in the request
// context and SignUp hands the new principal's session back to the caller
// instead of installing it anywhere.
package identity

import (
	"context"
	"errors"

	"github.com/noah-isme/dojo-api/internal/models"
)

// Metadata keys attached at signup.
const (
	MetadataRole = "role"
	MetadataName = "name"
)

var (
	ErrDuplicateIdentity  = errors.New("identity: email already registered")
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
)

// SignUpResult is the outcome of a credential creation.
type SignUpResult struct {
	Principal *models.Principal
	Session   *models.Session
}

// Provider is the identity provider contract.
type Provider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, session *models.Session) error
	GetUser(ctx context.Context, accessToken string) (*models.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
}

type sessionKey struct{}

type principalKey struct{}

// WithSession returns a context carrying the caller's session.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the caller's session, if any.
func SessionFromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey{}).(*models.Session)
	return s
}

// AccessToken returns the access token of the caller's session or "".
func AccessToken(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.AccessToken
	}
	return ""
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey{}).(*models.Principal)
	return p
}
