package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

func TestAuthServiceLogin(t *testing.T) {
	h := newHarness(t)

	session, err := h.auth.Login(context.Background(), LoginRequest{Email: "  SENSEI@dojo.test ", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok-"+testMasterUserID, session.AccessToken)

	_, err = h.auth.Login(context.Background(), LoginRequest{Email: testMasterEmail, Password: "wrong"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))

	_, err = h.auth.Login(context.Background(), LoginRequest{Email: "not-an-email", Password: "x"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestAuthServiceRefresh(t *testing.T) {
	h := newHarness(t)

	session, err := h.auth.Refresh(context.Background(), RefreshRequest{RefreshToken: h.master.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)

	_, err = h.auth.Refresh(context.Background(), RefreshRequest{RefreshToken: "bogus"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceAuthenticateAndMe(t *testing.T) {
	h := newHarness(t)

	principal, err := h.auth.Authenticate(context.Background(), h.master.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testMasterUserID, principal.ID)

	_, err = h.auth.Authenticate(context.Background(), "tok-nobody")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
	_, err = h.auth.Authenticate(context.Background(), "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	resolved, err := h.auth.Me(h.masterCtx())
	require.NoError(t, err)
	assert.Equal(t, models.IdentityMaster, resolved.Kind)

	_, err = h.auth.Me(context.Background())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceLogout(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.auth.Logout(h.masterCtx(), ""))
	_, err := h.idp.GetUser(context.Background(), h.master.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	err = h.auth.Logout(context.Background(), "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}
