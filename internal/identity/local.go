package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/dojo-api/internal/models"
)

// CredentialRepository persists local credentials and refresh tokens.
// Lookups return sql.ErrNoRows when nothing matches; Create returns
// ErrDuplicateIdentity on a unique email violation.
type CredentialRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
	FindByID(ctx context.Context, id string) (*models.Credential, error)
	Create(ctx context.Context, credential *models.Credential) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
}

// LocalConfig defines token settings for the local provider.
type LocalConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Local is a self-hosted identity provider backed by bcrypt hashes and
// HS256 access tokens.
type Local struct {
	repo   CredentialRepository
	config LocalConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewLocal constructs the local provider.
func NewLocal(repo CredentialRepository, config LocalConfig, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = time.Hour
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Local{repo: repo, config: config, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Local) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*SignUpResult, error) {
	email = normaliseEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if _, err := l.repo.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	credential := &models.Credential{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		RoleHint:     metadata[MetadataRole],
		FullName:     metadata[MetadataName],
		CreatedAt:    l.now(),
	}
	if err := l.repo.Create(ctx, credential); err != nil {
		return nil, err
	}

	session, err := l.issue(ctx, credential)
	if err != nil {
		return nil, err
	}
	l.logger.Info("credential created", zap.String("user_id", credential.ID), zap.String("email", email))
	return &SignUpResult{Principal: credential.Principal(), Session: session}, nil
}

func (l *Local) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	credential, err := l.repo.FindByEmail(ctx, normaliseEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return l.issue(ctx, credential)
}

func (l *Local) SignOut(ctx context.Context, session *models.Session) error {
	if session == nil || session.RefreshToken == "" {
		return nil
	}
	stored, err := l.repo.FindRefreshToken(ctx, session.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	return l.repo.RevokeRefreshToken(ctx, stored.ID, l.now())
}

func (l *Local) GetUser(ctx context.Context, accessToken string) (*models.Principal, error) {
	claims, err := l.parse(accessToken)
	if err != nil {
		return nil, err
	}
	credential, err := l.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return credential.Principal(), nil
}

func (l *Local) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	stored, err := l.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if stored.Revoked || l.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	credential, err := l.repo.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if err := l.repo.RevokeRefreshToken(ctx, stored.ID, l.now()); err != nil {
		l.logger.Warn("failed to revoke used refresh token", zap.Error(err))
	}
	return l.issue(ctx, credential)
}

func (l *Local) issue(ctx context.Context, credential *models.Credential) (*models.Session, error) {
	issuedAt := l.now()
	expiresAt := issuedAt.Add(l.config.AccessTTL)
	claims := &models.JWTClaims{
		UserID:   credential.ID,
		Email:    credential.Email,
		RoleHint: credential.RoleHint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    l.config.Issuer,
			Subject:   credential.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refresh := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    credential.ID,
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		ExpiresAt: issuedAt.Add(l.config.RefreshTTL),
		CreatedAt: issuedAt,
	}
	if err := l.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return &models.Session{AccessToken: signed, RefreshToken: refresh.Token, ExpiresAt: expiresAt}, nil
}

func (l *Local) parse(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(l.config.Secret), nil
	}, jwt.WithTimeFunc(l.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
