package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lifecycle runs registration, activation, password reset and profile
// updates. Every mutation that emits a notification runs in a single unit of
// work together with its notification intent.
type Lifecycle struct {
	repo     Repository
	cfg      Config
	tokens   *TokenManager
	creds    *CredentialValidator
	machine  *StateMachine
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleConfig sets links, subjects, token size, reset TTL and
// password rules.
func WithLifecycleConfig(cfg Config) LifecycleOption {
	return func(l *Lifecycle) {
		l.cfg = cfg
	}
}

// WithTokenManager overrides the token manager built from the config.
func WithTokenManager(tm *TokenManager) LifecycleOption {
	return func(l *Lifecycle) {
		l.tokens = tm
	}
}

// WithCredentialValidator overrides the validator built from the config.
func WithCredentialValidator(v *CredentialValidator) LifecycleOption {
	return func(l *Lifecycle) {
		l.creds = v
	}
}

// WithStateMachine overrides the default transition table.
func WithStateMachine(sm *StateMachine) LifecycleOption {
	return func(l *Lifecycle) {
		l.machine = sm
	}
}

// WithActivitySink sets the sink used to publish lifecycle events.
func WithActivitySink(sink ActivitySink) LifecycleOption {
	return func(l *Lifecycle) {
		l.activity = normalizeActivitySink(sink)
	}
}

// WithLifecycleLogger overrides the logger.
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLifecycleClock injects a custom clock (useful for tests).
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

func NewLifecycle(repo Repository, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		repo:     repo,
		cfg:      DefaultConfig(),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.tokens == nil {
		l.tokens = NewTokenManager(
			WithTokenBytes(l.cfg.TokenBytes),
			WithResetKeyTTL(l.cfg.ResetKeyTTL),
			WithTokenClock(l.now),
		)
	}
	if l.creds == nil {
		l.creds = NewCredentialValidator(
			WithPasswordMinLength(l.cfg.PasswordMinLength),
			WithPhoneRegion(l.cfg.DefaultPhoneRegion),
		)
	}
	if l.machine == nil {
		l.machine = NewStateMachine()
	}
	return l
}

// Tokens exposes the token manager.
func (l *Lifecycle) Tokens() *TokenManager {
	return l.tokens
}

// Credentials exposes the credential validator.
func (l *Lifecycle) Credentials() *CredentialValidator {
	return l.creds
}

// Get loads a user by id.
func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := l.repo.Users().Get(ctx, id)
	if err != nil {
		return nil, fatal(err, "failed to load user")
	}
	return user, nil
}

// Register creates a user pending activation, issues its activation code and
// stages the activation email. Invalid attributes, including an email that
// is already taken, come back as Result.Errors.
func (l *Lifecycle) Register(ctx context.Context, in Registration) (Result, error) {
	var result Result

	err := l.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		errs, err := l.creds.ValidateRegistration(ctx, tx.Users(), in)
		if err != nil {
			return fatal(err, "failed to validate registration")
		}
		if !errs.Empty() {
			result = invalid(errs)
			return nil
		}

		hash, err := l.creds.Hash(in.Password)
		if err != nil {
			return fatal(err, "failed to hash password")
		}

		code, err := l.tokens.Issue()
		if err != nil {
			return err
		}

		user := &User{
			Email:          normalizeEmail(in.Email),
			Name:           strings.TrimSpace(in.Name),
			Phone:          strings.TrimSpace(in.Phone),
			PasswordHash:   hash,
			ActivationCode: code,
		}

		tc := TransitionContext{User: user, From: StateUnregistered, To: StatePendingActivation}
		return l.machine.Transition(ctx, tc, func(ctx context.Context) error {
			created, err := tx.Users().Create(ctx, user)
			if err != nil {
				return fatal(err, "could not create user")
			}

			n := newNotification(NotificationActivation, created, l.cfg.Subjects.Activation, map[string]any{
				"link": l.cfg.ActivationLink(code),
			})
			if err := tx.Notify(ctx, n); err != nil {
				return fatal(err, "failed to stage activation notification")
			}

			result = Result{User: created}
			return nil
		})
	})
	if err != nil {
		logError(l.logger, "user registration failed", err)
		return Result{}, err
	}

	if result.OK() {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventRegistered,
			UserID:    result.User.ID.String(),
			FromState: StateUnregistered,
			ToState:   StatePendingActivation,
		})
	}
	return result, nil
}

// Activate moves the user holding code to active and stages exactly one
// welcome email. Activating an active user is a no-op.
func (l *Lifecycle) Activate(ctx context.Context, code string) (*User, error) {
	var (
		user      *User
		activated bool
	)

	err := l.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		found, err := l.tokens.Resolve(ctx, tx.Users(), code, ScopeActivation)
		if err != nil {
			return err
		}

		user = found
		if found.IsActive() {
			return nil
		}

		now := l.now()
		tc := TransitionContext{User: found, From: found.ActivationState(), To: StateActive}
		return l.machine.Transition(ctx, tc, func(ctx context.Context) error {
			changed, err := tx.Users().MarkActivated(ctx, found.ID, now)
			if err != nil {
				return fatal(err, "failed to activate user")
			}

			if !changed {
				// lost the race, the winner sends the welcome email
				reloaded, err := tx.Users().Get(ctx, found.ID)
				if err != nil {
					return fatal(err, "failed to reload user")
				}
				user = reloaded
				return nil
			}

			found.Activated = true
			found.ActivatedAt = &now
			found.UpdatedAt = &now

			n := newNotification(NotificationWelcome, found, l.cfg.Subjects.Welcome, map[string]any{
				"link": l.cfg.LoginLink(found.Email),
			})
			if err := tx.Notify(ctx, n); err != nil {
				return fatal(err, "failed to stage welcome notification")
			}

			activated = true
			return nil
		})
	})
	if err != nil {
		if !IsNotFound(err) {
			logError(l.logger, "user activation failed", err)
		}
		return nil, err
	}

	if activated {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventActivated,
			UserID:    user.ID.String(),
			FromState: StatePendingActivation,
			ToState:   StateActive,
		})
	}
	return user, nil
}

// RequestPasswordReset issues a fresh reset key for email and stages the
// reset email. Unknown emails fail with a NotFound error carrying the
// UNKNOWN_EMAIL text code; nothing is issued.
func (l *Lifecycle) RequestPasswordReset(ctx context.Context, email string) (*User, error) {
	var (
		user *User
		from State
	)

	err := l.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		found, err := tx.Users().FindBy(ctx, FieldEmail, normalizeEmail(email))
		if err != nil {
			return fatal(err, "failed to look up user")
		}
		if found == nil {
			return errUnknownEmail(email)
		}

		key, err := l.tokens.Issue()
		if err != nil {
			return err
		}

		now := l.now()
		from = found.PasswordState()
		tc := TransitionContext{User: found, From: from, To: StateResetPending}
		return l.machine.Transition(ctx, tc, func(ctx context.Context) error {
			found.PasswordResetKey = key
			found.PasswordResetRequestedAt = &now
			if err := tx.Users().Update(ctx, found, "password_reset_key", "password_reset_requested_at"); err != nil {
				return fatal(err, "failed to store password reset key")
			}

			n := newNotification(NotificationPasswordReset, found, l.cfg.Subjects.PasswordReset, map[string]any{
				"link": l.cfg.ResetPasswordLink(key),
			})
			if err := tx.Notify(ctx, n); err != nil {
				return fatal(err, "failed to stage password reset notification")
			}

			user = found
			return nil
		})
	})
	if err != nil {
		if !IsNotFound(err) {
			logError(l.logger, "password reset request failed", err)
		}
		return nil, err
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   StateResetPending,
	})
	return user, nil
}

// ChangePassword sets a new password for userID. The caller must either
// present the user's current reset key or confirm the current password;
// otherwise the change fails with Unauthorized. The reset key is cleared in
// the same unit of work.
func (l *Lifecycle) ChangePassword(ctx context.Context, userID uuid.UUID, in PasswordChange) (Result, error) {
	var (
		result Result
		from   State
	)

	err := l.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Get(ctx, userID)
		if err != nil {
			return fatal(err, "failed to load user")
		}

		ok, err := l.canChangePassword(ctx, tx.Users(), user, in)
		if err != nil {
			return err
		}
		if !ok {
			return NewUnauthorizedError("password change requires a reset key or the current password", map[string]any{
				"user_id": userID.String(),
			})
		}

		if errs := l.creds.ValidatePassword(in); !errs.Empty() {
			result = invalid(errs)
			return nil
		}

		hash, err := l.creds.Hash(in.Password)
		if err != nil {
			return fatal(err, "failed to hash password")
		}

		from = user.PasswordState()
		tc := TransitionContext{User: user, From: from, To: StateNormal}
		return l.machine.Transition(ctx, tc, func(ctx context.Context) error {
			user.PasswordHash = hash
			if err := tx.Users().Update(ctx, user, "password_hash"); err != nil {
				return fatal(err, "failed to update password")
			}
			if err := l.tokens.Invalidate(ctx, tx.Users(), user, ScopePasswordReset); err != nil {
				return err
			}
			result = Result{User: user}
			return nil
		})
	})
	if err != nil {
		if !IsNotFound(err) && !IsUnauthorized(err) {
			logError(l.logger, "password change failed", err)
		}
		return Result{}, err
	}

	if result.OK() {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventPasswordChanged,
			Actor:     ActorRef{ID: userID.String(), Type: "user"},
			UserID:    userID.String(),
			FromState: from,
			ToState:   StateNormal,
		})
	}
	return result, nil
}

// ResetPassword resolves key and changes the password of its holder. A
// consumed, replaced or expired key fails with NotFound.
func (l *Lifecycle) ResetPassword(ctx context.Context, key string, in PasswordChange) (Result, error) {
	user, err := l.tokens.Resolve(ctx, l.repo.Users(), key, ScopePasswordReset)
	if err != nil {
		return Result{}, err
	}
	in.CurrentPassword = ""
	in.ResetKey = key
	return l.ChangePassword(ctx, user.ID, in)
}

// UpdateProfile applies non credential attributes. ProfileUpdate carries no
// password fields, so this path can never touch the password hash.
func (l *Lifecycle) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (Result, error) {
	var (
		result  Result
		columns []string
	)

	err := l.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Get(ctx, userID)
		if err != nil {
			return fatal(err, "failed to load user")
		}

		errs, err := l.creds.ValidateProfile(ctx, tx.Users(), user, in)
		if err != nil {
			return fatal(err, "failed to validate profile")
		}
		if !errs.Empty() {
			result = invalid(errs)
			return nil
		}

		columns = in.Apply(user)
		if len(columns) > 0 {
			if err := tx.Users().Update(ctx, user, columns...); err != nil {
				return fatal(err, "failed to update profile")
			}
		}

		result = Result{User: user}
		return nil
	})
	if err != nil {
		if !IsNotFound(err) {
			logError(l.logger, "profile update failed", err)
		}
		return Result{}, err
	}

	if result.OK() && len(columns) > 0 {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventProfileUpdated,
			Actor:     ActorRef{ID: userID.String(), Type: "user"},
			UserID:    userID.String(),
			Metadata:  map[string]any{"columns": columns},
		})
	}
	return result, nil
}

// Validate checks attributes without persisting anything. A nil id
// validates a registration, otherwise a profile update of that user.
func (l *Lifecycle) Validate(ctx context.Context, attrs Attributes, id *uuid.UUID) (FieldErrors, error) {
	users := l.repo.Users()

	if id == nil {
		errs, err := l.creds.ValidateRegistration(ctx, users, attrs.Registration())
		if err != nil {
			return nil, fatal(err, "failed to validate registration")
		}
		return errs, nil
	}

	user, err := users.Get(ctx, *id)
	if err != nil {
		return nil, fatal(err, "failed to load user")
	}
	errs, err := l.creds.ValidateProfile(ctx, users, user, attrs.Profile())
	if err != nil {
		return nil, fatal(err, "failed to validate profile")
	}
	return errs, nil
}

// ValidatePasswordChange checks a password change without persisting
// anything, including whether the change would be authorized.
func (l *Lifecycle) ValidatePasswordChange(ctx context.Context, userID uuid.UUID, in PasswordChange) (FieldErrors, error) {
	users := l.repo.Users()

	user, err := users.Get(ctx, userID)
	if err != nil {
		return nil, fatal(err, "failed to load user")
	}

	errs := FieldErrors{}
	ok, err := l.canChangePassword(ctx, users, user, in)
	if err != nil {
		return nil, err
	}
	if !ok {
		errs.Add("current_password", msgIncorrectCurrentPasswd)
	}
	return errs.Merge(l.creds.ValidatePassword(in)), nil
}

// Authenticate checks credentials and records the attempt.
func (l *Lifecycle) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := l.creds.Authenticate(ctx, l.repo.Users(), email, password)
	if err != nil {
		return nil, fatal(err, "failed to authenticate")
	}

	if user == nil {
		l.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email)},
		})
		return nil, nil
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	})
	return user, nil
}

func (l *Lifecycle) canChangePassword(ctx context.Context, users UserFinder, user *User, in PasswordChange) (bool, error) {
	if l.tokens.MatchesResetKey(user, in.ResetKey) {
		return true, nil
	}
	if in.CurrentPassword == "" {
		return false, nil
	}

	authenticated, err := l.creds.Authenticate(ctx, users, user.Email, in.CurrentPassword)
	if err != nil {
		return false, fatal(err, "failed to verify current password")
	}
	return authenticated != nil && authenticated.ID == user.ID, nil
}

func (l *Lifecycle) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now()
	}
	if err := normalizeActivitySink(l.activity).Record(ctx, event); err != nil {
		l.logger.Warn("account activity sink error: %v", err)
	}
}
