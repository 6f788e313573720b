package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-account"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errDuplicateEmail = errors.New("UNIQUE constraint failed: users.email")

// memoryUsers is an in-memory UserStore. Records are copied in and out so
// callers never share pointers with the store.
type memoryUsers struct {
	mu      sync.Mutex
	records map[uuid.UUID]*account.User

	// beforeMarkActivated runs before the compare-and-set, used to simulate
	// a concurrent winner.
	beforeMarkActivated func(id uuid.UUID)
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{records: map[uuid.UUID]*account.User{}}
}

func (m *memoryUsers) Get(_ context.Context, id uuid.UUID) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, account.NewNotFoundError("user not found", nil)
	}
	return cloneUser(record), nil
}

func (m *memoryUsers) FindBy(_ context.Context, field account.Field, value string) (*account.User, error) {
	if value == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		var candidate string
		switch field {
		case account.FieldEmail:
			candidate = record.Email
		case account.FieldActivationCode:
			candidate = record.ActivationCode
		case account.FieldPasswordResetKey:
			candidate = record.PasswordResetKey
		default:
			return nil, errors.New("unsupported field")
		}
		if candidate == value {
			return cloneUser(record), nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) Create(_ context.Context, user *account.User) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.Email == user.Email {
			return nil, errDuplicateEmail
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = &now
	user.UpdatedAt = &now
	m.records[user.ID] = cloneUser(user)
	return user, nil
}

func (m *memoryUsers) Update(_ context.Context, user *account.User, columns ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[user.ID]
	if !ok {
		return account.NewNotFoundError("user not found", nil)
	}
	if len(columns) == 0 {
		m.records[user.ID] = cloneUser(user)
		return nil
	}
	for _, column := range columns {
		switch column {
		case "email":
			record.Email = user.Email
		case "name":
			record.Name = user.Name
		case "phone_number":
			record.Phone = user.Phone
		case "password_hash":
			record.PasswordHash = user.PasswordHash
		case "password_reset_key":
			record.PasswordResetKey = user.PasswordResetKey
		case "password_reset_requested_at":
			record.PasswordResetRequestedAt = user.PasswordResetRequestedAt
		default:
			return errors.New("unexpected column " + column)
		}
	}
	return nil
}

func (m *memoryUsers) MarkActivated(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if m.beforeMarkActivated != nil {
		m.beforeMarkActivated(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.Activated {
		return false, nil
	}
	record.Activated = true
	record.ActivatedAt = &at
	return true, nil
}

func (m *memoryUsers) snapshot() map[uuid.UUID]*account.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*account.User, len(m.records))
	for id, record := range m.records {
		out[id] = cloneUser(record)
	}
	return out
}

func (m *memoryUsers) restore(records map[uuid.UUID]*account.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// stored returns the persisted copy of id, bypassing the Get contract.
func (m *memoryUsers) stored(t *testing.T, id uuid.UUID) *account.User {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	require.True(t, ok, "user %s not stored", id)
	return cloneUser(record)
}

func cloneUser(u *account.User) *account.User {
	c := *u
	return &c
}

// memoryRepository serializes units of work, rolls the user store back when
// fn fails and delivers staged notifications only after a commit.
type memoryRepository struct {
	tx    sync.Mutex
	users *memoryUsers

	notifyErr error

	mu        sync.Mutex
	delivered []*account.Notification
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{users: newMemoryUsers()}
}

func (r *memoryRepository) Users() account.UserStore {
	return r.users
}

func (r *memoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx account.Tx) error) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	before := r.users.snapshot()
	scope := &memoryTx{repo: r}
	if err := fn(ctx, scope); err != nil {
		r.users.restore(before)
		return err
	}

	r.mu.Lock()
	r.delivered = append(r.delivered, scope.staged...)
	r.mu.Unlock()
	return nil
}

func (r *memoryRepository) notifications() []*account.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*account.Notification(nil), r.delivered...)
}

func (r *memoryRepository) notificationsOf(kind account.NotificationKind) []*account.Notification {
	out := []*account.Notification{}
	for _, n := range r.notifications() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type memoryTx struct {
	repo   *memoryRepository
	staged []*account.Notification
}

func (m *memoryTx) Users() account.UserStore {
	return m.repo.users
}

func (m *memoryTx) Notify(_ context.Context, n *account.Notification) error {
	if m.repo.notifyErr != nil {
		return m.repo.notifyErr
	}
	m.staged = append(m.staged, n)
	return nil
}

// MockActivitySink implements account.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event account.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []account.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event account.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []account.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]account.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func fastValidator() *account.CredentialValidator {
	return account.NewCredentialValidator(
		account.WithPasswordHasher(account.BcryptHasher{Cost: bcrypt.MinCost}),
	)
}

func newTestLifecycle(repo account.Repository, opts ...account.LifecycleOption) *account.Lifecycle {
	base := []account.LifecycleOption{
		account.WithCredentialValidator(fastValidator()),
		account.WithLifecycleLogger(nopLogger{}),
	}
	return account.NewLifecycle(repo, append(base, opts...)...)
}

func validRegistration(email string) account.Registration {
	return account.Registration{
		Email:                email,
		Name:                 "Ada Lovelace",
		Password:             "s3cret-pass",
		PasswordConfirmation: "s3cret-pass",
	}
}

// registerUser registers email and returns the stored user with its
// activation code.
func registerUser(t *testing.T, l *account.Lifecycle, email string) *account.User {
	t.Helper()
	result, err := l.Register(context.Background(), validRegistration(email))
	require.NoError(t, err)
	require.True(t, result.OK(), "registration errors: %v", result.Errors)
	return result.User
}

// activeUser registers and activates email.
func activeUser(t *testing.T, l *account.Lifecycle, email string) *account.User {
	t.Helper()
	user := registerUser(t, l, email)
	activated, err := l.Activate(context.Background(), user.ActivationCode)
	require.NoError(t, err)
	return activated
}

func stringPtr(s string) *string {
	return &s
}
