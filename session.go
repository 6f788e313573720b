package account

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// BindingKind tells how a session got its user.
type BindingKind string

const (
	// BindingCredentials is a full login.
	BindingCredentials BindingKind = "credentials"
	// BindingResetKey is granted by presenting an unconsumed password reset
	// key. It only authorizes the password change actions.
	BindingResetKey BindingKind = "reset_key"
)

// SessionBinding is the weak reference from a session to its user.
type SessionBinding struct {
	UserID uuid.UUID   `json:"user_id"`
	Kind   BindingKind `json:"kind"`
	// ResetKeyDigest fingerprints the key a reset key binding was granted
	// for. The binding lapses once the user no longer holds that key.
	ResetKeyDigest string `json:"reset_key_digest,omitempty"`
}

// SessionStore is the request scoped session collaborator.
type SessionStore interface {
	// CurrentUser returns the binding and false when the session is anonymous.
	CurrentUser(ctx context.Context) (SessionBinding, bool, error)
	SetCurrentUser(ctx context.Context, binding SessionBinding) error
	// Abandon resets the session to anonymous.
	Abandon(ctx context.Context) error
}

// MemorySession is a SessionStore held in memory for a single request.
type MemorySession struct {
	mu      sync.Mutex
	binding *SessionBinding
}

var _ SessionStore = (*MemorySession)(nil)

func NewMemorySession() *MemorySession {
	return &MemorySession{}
}

func (m *MemorySession) CurrentUser(context.Context) (SessionBinding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.binding == nil {
		return SessionBinding{}, false, nil
	}
	return *m.binding, true, nil
}

func (m *MemorySession) SetCurrentUser(_ context.Context, binding SessionBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding = &binding
	return nil
}

func (m *MemorySession) Abandon(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding = nil
	return nil
}
