package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/auth"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

var client = auth.Client{UserAgent: "go-test", IPAddress: "10.0.0.1"}

func TestSignupAssignsDefaultRole(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.Signup(context.Background(), "  A@B.com ", "Abcdef12", client)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.User.Email)
	assert.Equal(t, rbac.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, token.SchemeBearer, res.Tokens.TokenType)
	assert.NotContains(t, res.User.PasswordHash, "Abcdef12")

	payload, err := f.tokens.Verify(res.Tokens.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "1", payload.Subject)
}

func TestSignupRejectsWeakPasswordAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Signup(ctx, "a@b.com", "abcdefgh", client)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)
	_, err = f.service.Signup(ctx, "A@B.COM", "Abcdef12", client)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	_, unknown := f.service.Login(ctx, "nobody@b.com", "Abcdef12", client)
	_, wrong := f.service.Login(ctx, "a@b.com", "Wrong1234", client)
	f.users.setActive(res.User.ID, false)
	_, inactive := f.service.Login(ctx, "a@b.com", "Abcdef12", client)

	for _, err := range []error{unknown, wrong, inactive} {
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
		assert.Equal(t, shared.ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestLoginOpensNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signup, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	login, err := f.service.Login(ctx, "A@b.com", "Abcdef12", client)
	require.NoError(t, err)
	assert.NotEqual(t, signup.SessionID, login.SessionID)

	list, err := f.sessions.ListActive(ctx, signup.User.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLogoutIsIdempotentAndOwnerScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)
	b, err := f.service.Signup(ctx, "c@d.com", "Abcdef12", client)
	require.NoError(t, err)

	// Another user's session is left alone.
	require.NoError(t, f.service.Logout(ctx, a.User.ID, b.SessionID))
	_, err = f.sessions.Validate(ctx, b.SessionID)
	assert.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, a.User.ID, a.SessionID))
	require.NoError(t, f.service.Logout(ctx, a.User.ID, a.SessionID))
	_, err = f.sessions.Validate(ctx, a.SessionID)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestChangePasswordEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	err = f.service.ChangePassword(ctx, res.User.ID, "Nope1234", "Newpass99")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	err = f.service.ChangePassword(ctx, res.User.ID, "Abcdef12", "weak")
	assert.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, f.service.ChangePassword(ctx, res.User.ID, "Abcdef12", "Newpass99"))
	_, err = f.sessions.Validate(ctx, res.SessionID)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	_, err = f.service.Login(ctx, "a@b.com", "Abcdef12", client)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.service.Login(ctx, "a@b.com", "Newpass99", client)
	assert.NoError(t, err)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	f.service.ForgotPassword(ctx, "nobody@b.com")
	_, sent := f.mailer.last()
	assert.False(t, sent)

	f.service.ForgotPassword(ctx, "A@B.com")
	mail, sent := f.mailer.last()
	require.True(t, sent)
	assert.Equal(t, "a@b.com", mail.email)
	assert.Len(t, mail.token, 64)

	// A weak password does not consume the token.
	assert.ErrorIs(t, f.service.ResetPassword(ctx, mail.token, "short"), shared.ErrValidation)

	require.NoError(t, f.service.ResetPassword(ctx, mail.token, "Resetpw77"))
	assert.ErrorIs(t, f.service.ResetPassword(ctx, mail.token, "Resetpw88"), shared.ErrInvalidToken)

	_, err = f.sessions.Validate(ctx, res.SessionID)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
	_, err = f.service.Login(ctx, "a@b.com", "Resetpw77", client)
	assert.NoError(t, err)
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	f.service.ForgotPassword(ctx, "a@b.com")
	mail, ok := f.mailer.last()
	require.True(t, ok)

	f.redis.FastForward(time.Hour + time.Second)
	assert.ErrorIs(t, f.service.ResetPassword(ctx, mail.token, "Resetpw77"), shared.ErrInvalidToken)
}

func TestResetTokenStoresDigestOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	f.service.ForgotPassword(ctx, "a@b.com")
	mail, ok := f.mailer.last()
	require.True(t, ok)

	keys := f.redis.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], mail.token)
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.service.Signup(ctx, "a@b.com", "Abcdef12", client)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	next, err := f.service.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.RefreshToken, next.RefreshToken)

	_, err = f.service.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}
