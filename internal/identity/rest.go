package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noah-isme/dojo-api/internal/models"
)

// RESTConfig configures the hosted identity adapter.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// REST talks to a GoTrue-compatible auth endpoint.
type REST struct {
	http *resty.Client
}

type restUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type restSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         *restUser `json:"user"`

	// Signup without auto-confirm returns the user at top level.
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type restAuthError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Error     string `json:"error"`
	Desc      string `json:"error_description"`
}

func (e *restAuthError) message() string {
	for _, m := range []string{e.Msg, e.Desc, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

// NewREST constructs the adapter.
func NewREST(cfg RESTConfig) *REST {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey)
	}
	return &REST{http: client}
}

func (r *REST) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*SignUpResult, error) {
	var out restSession
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "password": password, "data": metadata}).
		SetResult(&out).
		SetError(&restAuthError{}).
		Post("/signup")
	if err := authError("signup", resp, err); err != nil {
		return nil, err
	}

	user := out.User
	if user == nil {
		user = &restUser{ID: out.ID, Email: out.Email, UserMetadata: out.UserMetadata}
	}
	if user.ID == "" {
		return nil, fmt.Errorf("identity signup: response carried no user id")
	}
	result := &SignUpResult{Principal: toPrincipal(user)}
	if out.AccessToken != "" {
		result.Session = toSession(&out)
	}
	return result, nil
}

func (r *REST) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var out restSession
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		SetError(&restAuthError{}).
		Post("/token")
	if err := authError("signin", resp, err); err != nil {
		return nil, err
	}
	return toSession(&out), nil
}

func (r *REST) SignOut(ctx context.Context, session *models.Session) error {
	if session == nil || session.AccessToken == "" {
		return nil
	}
	resp, err := r.http.R().
		SetContext(ctx).
		SetAuthToken(session.AccessToken).
		SetError(&restAuthError{}).
		Post("/logout")
	return authError("signout", resp, err)
}

func (r *REST) GetUser(ctx context.Context, accessToken string) (*models.Principal, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	var out restUser
	resp, err := r.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		SetError(&restAuthError{}).
		Get("/user")
	if err := authError("user", resp, err); err != nil {
		return nil, err
	}
	return toPrincipal(&out), nil
}

func (r *REST) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	var out restSession
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(&out).
		SetError(&restAuthError{}).
		Post("/token")
	if err := authError("refresh", resp, err); err != nil {
		return nil, err
	}
	return toSession(&out), nil
}

func authError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("identity %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	body, _ := resp.Error().(*restAuthError)
	msg := ""
	code := ""
	if body != nil {
		msg = body.message()
		code = body.ErrorCode
	}
	lower := strings.ToLower(msg)
	switch {
	case code == "user_already_exists" || code == "email_exists" || strings.Contains(lower, "already registered"):
		return ErrDuplicateIdentity
	case code == "invalid_credentials" || (op == "signin" && resp.StatusCode() == http.StatusBadRequest):
		return ErrInvalidCredentials
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return ErrInvalidToken
	case op == "refresh" && resp.StatusCode() == http.StatusBadRequest:
		return ErrInvalidToken
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return fmt.Errorf("identity %s: status %d: %s", op, resp.StatusCode(), msg)
}

func toPrincipal(u *restUser) *models.Principal {
	return &models.Principal{
		ID:       u.ID,
		Email:    u.Email,
		RoleHint: metadataString(u.UserMetadata, MetadataRole),
		Name:     metadataString(u.UserMetadata, MetadataName),
	}
}

func metadataString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func toSession(s *restSession) *models.Session {
	return &models.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(s.ExpiresIn) * time.Second),
	}
}
