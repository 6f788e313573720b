package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// TokenScope selects which token field a lookup targets.
type TokenScope string

const (
	ScopeActivation    TokenScope = "activation"
	ScopePasswordReset TokenScope = "password_reset"
)

const (
	// DefaultTokenBytes is the entropy of issued tokens, hex encoded to
	// twice as many characters.
	DefaultTokenBytes = 32
	minTokenBytes     = 16
)

// TokenSource produces opaque tokens.
type TokenSource func() (string, error)

// TokenManager issues and resolves activation codes and password reset keys.
type TokenManager struct {
	source   TokenSource
	resetTTL time.Duration
	now      func() time.Time
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenSource replaces the random source, mostly for tests.
func WithTokenSource(source TokenSource) TokenOption {
	return func(tm *TokenManager) {
		if source != nil {
			tm.source = source
		}
	}
}

// WithTokenBytes sets the number of random bytes per token.
func WithTokenBytes(n int) TokenOption {
	return func(tm *TokenManager) {
		tm.source = RandomTokenSource(n)
	}
}

// WithResetKeyTTL bounds how long a reset key stays usable. Zero disables
// expiry.
func WithResetKeyTTL(ttl time.Duration) TokenOption {
	return func(tm *TokenManager) {
		if ttl >= 0 {
			tm.resetTTL = ttl
		}
	}
}

// WithTokenClock injects the clock used for expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

func NewTokenManager(opts ...TokenOption) *TokenManager {
	tm := &TokenManager{
		source:   RandomTokenSource(DefaultTokenBytes),
		resetTTL: 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tm)
		}
	}
	return tm
}

// RandomTokenSource reads n bytes from crypto/rand and hex encodes them.
// Values below 16 bytes are raised to 16.
func RandomTokenSource(n int) TokenSource {
	if n < minTokenBytes {
		n = minTokenBytes
	}
	return func() (string, error) {
		b := make([]byte, n)
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return "", fmt.Errorf("failed to read random bytes for token: %w", err)
		}
		return hex.EncodeToString(b), nil
	}
}

// Issue returns a fresh token.
func (tm *TokenManager) Issue() (string, error) {
	token, err := tm.source()
	if err != nil {
		return "", fatal(err, "failed to issue token")
	}
	if token == "" {
		return "", fatal(fmt.Errorf("token source returned an empty token"), "failed to issue token")
	}
	return token, nil
}

// Resolve finds the user holding token in scope.
func (tm *TokenManager) Resolve(ctx context.Context, users UserFinder, token string, scope TokenScope) (*User, error) {
	field, err := scopeField(scope)
	if err != nil {
		return nil, err
	}

	if token == "" {
		return nil, NewNotFoundError("token not found", map[string]any{"scope": string(scope)})
	}

	user, err := users.FindBy(ctx, field, token)
	if err != nil {
		return nil, fatal(err, "failed to resolve token")
	}
	if user == nil {
		return nil, NewNotFoundError("token not found", map[string]any{"scope": string(scope)})
	}

	if scope == ScopePasswordReset && tm.expired(user) {
		return nil, errTokenExpired(scope)
	}

	return user, nil
}

// Invalidate clears the token held by user in scope. Clearing an already
// cleared token is a no-op. Activation codes are kept as history; the
// activated flag is what makes activation single use.
func (tm *TokenManager) Invalidate(ctx context.Context, users UserStore, user *User, scope TokenScope) error {
	if _, err := scopeField(scope); err != nil {
		return err
	}
	if user == nil || scope == ScopeActivation || user.PasswordResetKey == "" {
		return nil
	}

	user.PasswordResetKey = ""
	user.PasswordResetRequestedAt = nil
	if err := users.Update(ctx, user, "password_reset_key", "password_reset_requested_at"); err != nil {
		return fatal(err, "failed to invalidate token")
	}
	return nil
}

func (tm *TokenManager) expired(user *User) bool {
	if tm.resetTTL == 0 || user.PasswordResetRequestedAt == nil {
		return false
	}
	return tm.now().After(user.PasswordResetRequestedAt.Add(tm.resetTTL))
}

func scopeField(scope TokenScope) (Field, error) {
	switch scope {
	case ScopeActivation:
		return FieldActivationCode, nil
	case ScopePasswordReset:
		return FieldPasswordResetKey, nil
	default:
		return "", fatal(fmt.Errorf("unknown token scope %q", scope), "invalid token scope")
	}
}

// Holds reports whether user holds a usable token in scope.
func (tm *TokenManager) Holds(user *User, scope TokenScope) bool {
	if user == nil {
		return false
	}
	switch scope {
	case ScopeActivation:
		return user.ActivationCode != "" && !user.Activated
	case ScopePasswordReset:
		return user.PasswordResetKey != "" && !tm.expired(user)
	default:
		return false
	}
}

// MatchesResetKey reports whether key is the usable reset key of user.
func (tm *TokenManager) MatchesResetKey(user *User, key string) bool {
	if key == "" || !tm.Holds(user, ScopePasswordReset) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(user.PasswordResetKey)) == 1
}

// MatchesResetDigest reports whether digest fingerprints the usable reset
// key of user. A replaced or consumed key no longer matches.
func (tm *TokenManager) MatchesResetDigest(user *User, digest string) bool {
	if digest == "" || !tm.Holds(user, ScopePasswordReset) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(KeyDigest(user.PasswordResetKey))) == 1
}

// KeyDigest fingerprints a token so sessions never keep it in clear.
func KeyDigest(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
