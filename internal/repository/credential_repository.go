package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
)

const uniqueViolation = "23505"

// CredentialRepository stores local logins and refresh tokens.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new instance of CredentialRepository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByEmail returns a credential by email address.
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	const query = `SELECT id, email, password_hash, role_hint, full_name, created_at FROM credentials WHERE email = $1 LIMIT 1`
	var credential models.Credential
	if err := r.db.GetContext(ctx, &credential, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find credential by email: %w", err)
	}
	return &credential, nil
}

// FindByID returns a credential by identifier.
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	const query = `SELECT id, email, password_hash, role_hint, full_name, created_at FROM credentials WHERE id = $1 LIMIT 1`
	var credential models.Credential
	if err := r.db.GetContext(ctx, &credential, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	return &credential, nil
}

// Create inserts a new credential.
func (r *CredentialRepository) Create(ctx context.Context, credential *models.Credential) error {
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO credentials (id, email, password_hash, role_hint, full_name, created_at) VALUES (:id, :email, :password_hash, :role_hint, :full_name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, credential); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return identity.ErrDuplicateIdentity
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *CredentialRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *CredentialRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *CredentialRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
