package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-account"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultActionVisibility(t *testing.T) {
	guard := account.NewSessionGuard(account.NewMemorySession(), newMemoryUsers())

	public := []account.Action{
		account.ActionNew,
		account.ActionValidateUser,
		account.ActionCreate,
		account.ActionActivate,
		account.ActionForgotPassword,
		account.ActionPasswordResetKey,
		account.ActionResetPassword,
	}
	for _, action := range public {
		assert.Equal(t, account.VisibilityPublic, guard.Visibility(action), action)
	}

	private := []account.Action{
		account.ActionShow,
		account.ActionEdit,
		account.ActionUpdate,
		account.ActionValidateResetPassword,
		account.ActionUpdatePassword,
		account.Action("not_listed"),
	}
	for _, action := range private {
		assert.Equal(t, account.VisibilityPrivate, guard.Visibility(action), action)
	}
	assert.Equal(t, "private", guard.Visibility(account.Action("not_listed")).String())
	assert.Equal(t, "public", guard.Visibility(account.ActionLogin).String())
}

func TestSessionGuardAnonymous(t *testing.T) {
	guard := account.NewSessionGuard(account.NewMemorySession(), newMemoryUsers())

	user, err := guard.Authorize(context.Background(), account.ActionCreate)
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = guard.Authorize(context.Background(), account.ActionShow)
	require.Error(t, err)
	assert.True(t, account.IsUnauthorized(err))
	assert.False(t, account.IsNotFound(err))
}

func TestSessionGuardCredentialsBinding(t *testing.T) {
	repo := newMemoryRepository()
	l := newTestLifecycle(repo)
	pending := registerUser(t, l, "grace@example.com")
	active := activeUser(t, l, "ada@example.com")

	session := account.NewMemorySession()
	guard := account.NewSessionGuard(session, repo.Users())

	err := guard.Login(context.Background(), pending)
	assert.True(t, account.IsUnauthorized(err), "pending users cannot log in")

	require.NoError(t, guard.Login(context.Background(), active))
	user, err := guard.Authorize(context.Background(), account.ActionEdit)
	require.NoError(t, err)
	assert.Equal(t, active.ID, user.ID)

	current, err := guard.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, active.ID, current.ID)

	require.NoError(t, guard.Abandon(context.Background()))
	_, err = guard.Authorize(context.Background(), account.ActionEdit)
	assert.True(t, account.IsUnauthorized(err))
}

func TestSessionGuardResetKeyBindingIsNotALogin(t *testing.T) {
	repo := newMemoryRepository()
	l := newTestLifecycle(repo)
	activeUser(t, l, "ada@example.com")

	requested, err := l.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)

	session := account.NewMemorySession()
	guard := account.NewSessionGuard(session, repo.Users())
	require.NoError(t, guard.BindTemporary(context.Background(), requested))

	binding, ok, err := session.CurrentUser(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, account.BindingResetKey, binding.Kind)

	for _, action := range []account.Action{account.ActionUpdatePassword, account.ActionValidateResetPassword} {
		user, err := guard.Authorize(context.Background(), action)
		require.NoError(t, err, action)
		assert.Equal(t, requested.ID, user.ID)
	}

	for _, action := range []account.Action{account.ActionShow, account.ActionEdit, account.ActionUpdate} {
		_, err := guard.Authorize(context.Background(), action)
		assert.True(t, account.IsUnauthorized(err), action)
	}

	_, err = l.ResetPassword(context.Background(), requested.PasswordResetKey, account.PasswordChange{
		Password:             "brand-new-pass",
		PasswordConfirmation: "brand-new-pass",
	})
	require.NoError(t, err)

	_, err = guard.Authorize(context.Background(), account.ActionUpdatePassword)
	assert.True(t, account.IsUnauthorized(err), "a consumed key no longer authorizes")
}

func TestSessionGuardResetKeyBindingLapsesWithItsKey(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := account.DefaultConfig()
	cfg.ResetKeyTTL = time.Hour

	repo := newMemoryRepository()
	l := newTestLifecycle(repo,
		account.WithLifecycleConfig(cfg),
		account.WithLifecycleClock(func() time.Time { return now }),
	)
	activeUser(t, l, "ada@example.com")

	requested, err := l.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)

	session := account.NewMemorySession()
	guard := account.NewSessionGuard(session, repo.Users(), account.WithGuardTokens(l.Tokens()))
	require.NoError(t, guard.BindTemporary(context.Background(), requested))

	binding, _, err := session.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, account.KeyDigest(requested.PasswordResetKey), binding.ResetKeyDigest)
	assert.NotContains(t, binding.ResetKeyDigest, requested.PasswordResetKey)

	_, err = guard.Authorize(context.Background(), account.ActionUpdatePassword)
	require.NoError(t, err)

	_, err = l.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)

	_, err = guard.Authorize(context.Background(), account.ActionUpdatePassword)
	assert.True(t, account.IsUnauthorized(err), "a replaced key no longer authorizes")

	renewed, err := l.RequestPasswordReset(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, guard.BindTemporary(context.Background(), renewed))
	_, err = guard.Authorize(context.Background(), account.ActionUpdatePassword)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = guard.Authorize(context.Background(), account.ActionUpdatePassword)
	assert.True(t, account.IsUnauthorized(err), "an expired key no longer authorizes")

	err = guard.BindTemporary(context.Background(), renewed)
	assert.True(t, account.IsUnauthorized(err), "an expired key cannot bind")
}

func TestSessionGuardBindTemporaryRequiresKey(t *testing.T) {
	guard := account.NewSessionGuard(account.NewMemorySession(), newMemoryUsers())
	err := guard.BindTemporary(context.Background(), &account.User{ID: uuid.New()})
	assert.True(t, account.IsUnauthorized(err))
}

func TestSessionGuardDropsStaleBinding(t *testing.T) {
	session := account.NewMemorySession()
	require.NoError(t, session.SetCurrentUser(context.Background(), account.SessionBinding{
		UserID: uuid.New(),
		Kind:   account.BindingCredentials,
	}))

	guard := account.NewSessionGuard(session, newMemoryUsers())
	user, err := guard.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)

	_, ok, err := session.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionGuardCustomVisibility(t *testing.T) {
	guard := account.NewSessionGuard(account.NewMemorySession(), newMemoryUsers(),
		account.WithActionVisibility(map[account.Action]account.Visibility{
			account.ActionShow: account.VisibilityPublic,
		}),
	)

	_, err := guard.Authorize(context.Background(), account.ActionShow)
	assert.NoError(t, err)
	_, err = guard.Authorize(context.Background(), account.ActionCreate)
	assert.True(t, account.IsUnauthorized(err))
}

type brokenSession struct{}

func (brokenSession) CurrentUser(context.Context) (account.SessionBinding, bool, error) {
	return account.SessionBinding{}, false, errors.New("store offline")
}
func (brokenSession) SetCurrentUser(context.Context, account.SessionBinding) error { return nil }
func (brokenSession) Abandon(context.Context) error                                { return nil }

func TestSessionGuardStoreFailureIsFatal(t *testing.T) {
	guard := account.NewSessionGuard(brokenSession{}, newMemoryUsers())
	_, err := guard.Authorize(context.Background(), account.ActionNew)
	require.Error(t, err)
	assert.True(t, account.IsFatal(err))
}
