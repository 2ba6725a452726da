package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a login stored by the local identity provider.
type Credential struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	RoleHint     string    `db:"role_hint" json:"role_hint"`
	FullName     string    `db:"full_name" json:"full_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Principal returns the identity view of the credential.
func (c *Credential) Principal() *Principal {
	return &Principal{ID: c.ID, Email: c.Email, RoleHint: c.RoleHint, Name: c.FullName}
}

// RefreshToken represents a persisted refresh token session.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"token"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	RoleHint string `json:"role_hint,omitempty"`
	jwt.RegisteredClaims
}
