package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

// LoginRequest holds sign-in credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest exchanges a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type identityResolver interface {
	Resolve(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, error)
}

// AuthService provides authentication use cases over the identity provider.
type AuthService struct {
	identity  identity.Provider
	resolver  identityResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(provider identity.Provider, resolver identityResolver, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{identity: provider, resolver: resolver, validator: validate, logger: logger}
}

// Login authenticates a principal and returns its session.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}
	session, err := s.identity.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign in")
	}
	s.logger.Debug("principal signed in", zap.String("email", req.Email))
	return session, nil
}

// Refresh exchanges a refresh token for a new session.
func (s *AuthService) Refresh(ctx context.Context, req RefreshRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid refresh payload")
	}
	session, err := s.identity.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh session")
	}
	return session, nil
}

// Logout ends the session carried by ctx. A refresh token supplied in the
// body is revoked too.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session := identity.SessionFromContext(ctx)
	if session == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "no active session")
	}
	if refreshToken != "" {
		copied := *session
		copied.RefreshToken = refreshToken
		session = &copied
	}
	if err := s.identity.SignOut(ctx, session); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign out")
	}
	return nil
}

// Authenticate validates an access token and returns its principal.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	if accessToken == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing access token")
	}
	principal, err := s.identity.GetUser(ctx, accessToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify token")
	}
	return principal, nil
}

// Me resolves the operating role of the principal carried by ctx.
func (s *AuthService) Me(ctx context.Context) (*models.ResolvedIdentity, error) {
	principal := identity.PrincipalFromContext(ctx)
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no authenticated principal")
	}
	return s.resolver.Resolve(ctx, principal)
}
