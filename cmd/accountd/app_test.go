package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-account"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPasswords(t *testing.T, passwords ...string) {
	t.Helper()
	prev := readPassword
	t.Cleanup(func() { readPassword = prev })

	readPassword = func() ([]byte, error) {
		require.NotEmpty(t, passwords, "unexpected password prompt")
		next := passwords[0]
		passwords = passwords[1:]
		return []byte(next), nil
	}
}

func newTestApp(t *testing.T, stdin string) (*app, *bytes.Buffer) {
	t.Helper()

	cfg := account.DefaultConfig()
	cfg.SMTP.Host = ""
	cfg.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	out := &bytes.Buffer{}
	a.in = strings.NewReader(stdin)
	a.out = out

	require.NoError(t, a.dispatch(context.Background(), "migrate", nil))
	return a, out
}

func findUser(t *testing.T, a *app, email string) *account.User {
	t.Helper()
	user, err := a.repo.Users().FindBy(context.Background(), account.FieldEmail, email)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestAccountLifecycleCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "Ada@Example.com\nAda Lovelace\n\n")

	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	require.NoError(t, a.dispatch(ctx, "register", nil))
	assert.Contains(t, out.String(), "registered ada@example.com")

	user := findUser(t, a, "ada@example.com")
	assert.False(t, user.Activated)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "activate", []string{user.ActivationCode}))
	assert.Contains(t, out.String(), "activated ada@example.com")

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "forgot", []string{"ada@example.com"}))
	assert.Contains(t, out.String(), "reset link sent")

	key := findUser(t, a, "ada@example.com").PasswordResetKey
	require.NotEmpty(t, key)

	out.Reset()
	stubPasswords(t, "n3w-password", "n3w-password")
	require.NoError(t, a.dispatch(ctx, "reset", []string{key}))
	assert.Contains(t, out.String(), "password changed")

	authenticated, err := a.lifecycle.Authenticate(ctx, "ada@example.com", "n3w-password")
	require.NoError(t, err)
	assert.NotNil(t, authenticated)

	err = a.dispatch(ctx, "reset", []string{key})
	assert.True(t, account.IsNotFound(err), "reset keys are single use")
}

func TestRegisterAcceptsInputEndingBeforeOptionalFields(t *testing.T) {
	a, out := newTestApp(t, "ada@example.com\nAda Lovelace")

	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	require.NoError(t, a.dispatch(context.Background(), "register", nil))
	assert.Contains(t, out.String(), "registered ada@example.com")
	assert.Empty(t, findUser(t, a, "ada@example.com").Phone)
}

func TestPrompterLine(t *testing.T) {
	p := newPrompter(strings.NewReader("  first  \nlast"), &bytes.Buffer{})

	for _, want := range []string{"first", "last", ""} {
		got, err := p.line("Field")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRegisterPrintsFieldErrors(t *testing.T) {
	a, out := newTestApp(t, "not-an-email\n\n\n")

	stubPasswords(t, "short", "different")
	err := a.dispatch(context.Background(), "register", nil)
	require.Error(t, err)

	assert.Contains(t, out.String(), "email:")
	assert.Contains(t, out.String(), "password_confirmation:")
}

func TestCommandUsageErrors(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()

	assert.Error(t, a.dispatch(ctx, "activate", nil))
	assert.Error(t, a.dispatch(ctx, "forgot", []string{"a", "b"}))
	assert.Error(t, a.dispatch(ctx, "session", nil))
	assert.ErrorContains(t, a.dispatch(ctx, "bogus", nil), "unknown command")

	err := a.dispatch(ctx, "activate", []string{"missing"})
	assert.True(t, account.IsNotFound(err))
}

func TestRelayOnceDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "ada@example.com\nAda\n\n")

	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	require.NoError(t, a.dispatch(ctx, "register", nil))

	require.NoError(t, a.dispatch(ctx, "relay", []string{"-once"}))
	assert.Contains(t, out.String(), "delivered")

	assert.Eventually(t, func() bool {
		pending, err := a.repo.PendingNotifications(ctx)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "pending", nil))
	assert.Contains(t, out.String(), "0 pending")
}

func TestStatusRoutes(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, "ada@example.com\nAda\n\n")

	stubPasswords(t, "s3cret-pass", "s3cret-pass")
	require.NoError(t, a.dispatch(ctx, "register", nil))

	handler := statusRoutes(a)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `account_lifecycle_events_total{event_type="account.registered"} 1`)
}

func TestRunRequiresCommand(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(context.Background(), nil, strings.NewReader(""), out)
	assert.ErrorContains(t, err, "missing command")
	assert.Contains(t, out.String(), "usage: accountd")
}
