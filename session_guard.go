package account

import (
	"context"

	"github.com/google/uuid"
)

// Action names an account controller action.
type Action string

const (
	ActionNew                   Action = "new"
	ActionValidateUser          Action = "validate_user"
	ActionCreate                Action = "create"
	ActionActivate              Action = "activate"
	ActionForgotPassword        Action = "forgot_password"
	ActionPasswordResetKey      Action = "password_reset_key"
	ActionResetPassword         Action = "reset_password"
	ActionShow                  Action = "show"
	ActionEdit                  Action = "edit"
	ActionUpdate                Action = "update"
	ActionValidateResetPassword Action = "validate_reset_password"
	ActionUpdatePassword        Action = "update_password"
	ActionLogin                 Action = "login"
	ActionLogout                Action = "logout"
)

// Visibility is the authentication requirement of an action.
type Visibility int

const (
	// VisibilityPrivate is the zero value so unknown actions are private.
	VisibilityPrivate Visibility = iota
	VisibilityPublic
)

func (v Visibility) String() string {
	if v == VisibilityPublic {
		return "public"
	}
	return "private"
}

// DefaultActionVisibility lists the public actions. Anything not listed is
// private.
var DefaultActionVisibility = map[Action]Visibility{
	ActionNew:              VisibilityPublic,
	ActionValidateUser:     VisibilityPublic,
	ActionCreate:           VisibilityPublic,
	ActionActivate:         VisibilityPublic,
	ActionForgotPassword:   VisibilityPublic,
	ActionPasswordResetKey: VisibilityPublic,
	ActionResetPassword:    VisibilityPublic,
	ActionLogin:            VisibilityPublic,
	ActionLogout:           VisibilityPublic,

	ActionShow:                  VisibilityPrivate,
	ActionEdit:                  VisibilityPrivate,
	ActionUpdate:                VisibilityPrivate,
	ActionValidateResetPassword: VisibilityPrivate,
	ActionUpdatePassword:        VisibilityPrivate,
}

// passwordChangeActions are the only actions a reset key binding unlocks.
var passwordChangeActions = map[Action]struct{}{
	ActionResetPassword:         {},
	ActionValidateResetPassword: {},
	ActionUpdatePassword:        {},
}

// UserGetter loads the user a session points at.
type UserGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
}

// SessionGuard binds a request to its user and enforces the public/private
// action boundary.
type SessionGuard struct {
	session    SessionStore
	users      UserGetter
	tokens     *TokenManager
	visibility map[Action]Visibility
}

// GuardOption customizes a SessionGuard.
type GuardOption func(*SessionGuard)

// WithActionVisibility replaces the visibility table.
func WithActionVisibility(table map[Action]Visibility) GuardOption {
	return func(g *SessionGuard) {
		if table != nil {
			g.visibility = table
		}
	}
}

// WithGuardTokens sets the token manager that decides whether a reset key
// binding is still backed by a usable key.
func WithGuardTokens(tm *TokenManager) GuardOption {
	return func(g *SessionGuard) {
		if tm != nil {
			g.tokens = tm
		}
	}
}

func NewSessionGuard(session SessionStore, users UserGetter, opts ...GuardOption) *SessionGuard {
	g := &SessionGuard{
		session:    session,
		users:      users,
		tokens:     NewTokenManager(),
		visibility: DefaultActionVisibility,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Visibility returns the visibility of action.
func (g *SessionGuard) Visibility(action Action) Visibility {
	return g.visibility[action]
}

// Authorize returns the bound user for action. Public actions never fail on
// a missing session and may return a nil user.
func (g *SessionGuard) Authorize(ctx context.Context, action Action) (*User, error) {
	user, _, err := g.authorize(ctx, action)
	return user, err
}

func (g *SessionGuard) authorize(ctx context.Context, action Action) (*User, SessionBinding, error) {
	if g.Visibility(action) == VisibilityPublic {
		return g.current(ctx)
	}
	return g.requireAuthenticated(ctx, action)
}

// RequireAuthenticated fails with Unauthorized unless the session is bound
// to a user allowed to run action. A credentials binding needs an active
// user. A reset key binding only covers the password change actions and
// only while the user still holds the unexpired key the binding was
// granted for.
func (g *SessionGuard) RequireAuthenticated(ctx context.Context, action Action) (*User, error) {
	user, _, err := g.requireAuthenticated(ctx, action)
	return user, err
}

func (g *SessionGuard) requireAuthenticated(ctx context.Context, action Action) (*User, SessionBinding, error) {
	user, binding, err := g.current(ctx)
	if err != nil {
		return nil, SessionBinding{}, err
	}
	if user == nil {
		return nil, SessionBinding{}, NewUnauthorizedError("authentication required", map[string]any{"action": string(action)})
	}

	switch binding.Kind {
	case BindingResetKey:
		if _, ok := passwordChangeActions[action]; !ok {
			return nil, SessionBinding{}, NewUnauthorizedError("reset key session does not grant this action", map[string]any{
				"action": string(action),
			})
		}
		if !g.tokens.MatchesResetDigest(user, binding.ResetKeyDigest) {
			return nil, SessionBinding{}, NewUnauthorizedError("reset key is no longer valid", map[string]any{
				"action": string(action),
			})
		}
	default:
		if !user.IsActive() {
			return nil, SessionBinding{}, NewUnauthorizedError("account is not active", map[string]any{"action": string(action)})
		}
	}
	return user, binding, nil
}

// CurrentUser returns the bound user or nil.
func (g *SessionGuard) CurrentUser(ctx context.Context) (*User, error) {
	user, _, err := g.current(ctx)
	return user, err
}

// Login binds an active user after a credentials check.
func (g *SessionGuard) Login(ctx context.Context, user *User) error {
	if user == nil || !user.IsActive() {
		return NewUnauthorizedError("account is not active", nil)
	}
	return g.session.SetCurrentUser(ctx, SessionBinding{UserID: user.ID, Kind: BindingCredentials})
}

// BindTemporary binds user by possession of its current reset key. It is
// not a login and lapses as soon as that key is consumed, replaced or
// expires.
func (g *SessionGuard) BindTemporary(ctx context.Context, user *User) error {
	if !g.tokens.Holds(user, ScopePasswordReset) {
		return NewUnauthorizedError("no pending password reset", nil)
	}
	return g.session.SetCurrentUser(ctx, SessionBinding{
		UserID:         user.ID,
		Kind:           BindingResetKey,
		ResetKeyDigest: KeyDigest(user.PasswordResetKey),
	})
}

// Abandon resets the session to anonymous.
func (g *SessionGuard) Abandon(ctx context.Context) error {
	return g.session.Abandon(ctx)
}

func (g *SessionGuard) current(ctx context.Context) (*User, SessionBinding, error) {
	binding, ok, err := g.session.CurrentUser(ctx)
	if err != nil {
		return nil, SessionBinding{}, fatal(err, "failed to read session")
	}
	if !ok {
		return nil, SessionBinding{}, nil
	}

	user, err := g.users.Get(ctx, binding.UserID)
	if err != nil {
		if IsNotFound(err) {
			// the user is gone, the stale binding is dropped
			if err := g.session.Abandon(ctx); err != nil {
				return nil, SessionBinding{}, fatal(err, "failed to abandon session")
			}
			return nil, SessionBinding{}, nil
		}
		return nil, SessionBinding{}, fatal(err, "failed to load session user")
	}
	return user, binding, nil
}
