package account

import (
	"context"

	"github.com/google/uuid"
)

// ControllerViews names the templates a presentation layer renders.
type ControllerViews struct {
	New            string
	Edit           string
	ForgotPassword string
	ResetPassword  string
	Login          string
}

// Response is the transport neutral outcome of a controller action. A
// presentation layer either renders View with User and Errors or redirects.
type Response struct {
	View     string
	Redirect string
	Notice   string
	Error    string
	User     *User
	Errors   FieldErrors
}

// Redirected reports whether the response is a redirect.
func (r Response) Redirected() bool {
	return r.Redirect != ""
}

const (
	noticeUpdated        = "Updated your account."
	noticeCreated        = "Created your account. Please check your email."
	noticeActivated      = "Your account has been activated. Welcome."
	noticeResetSent      = "We've emailed a link to reset your password."
	noticePasswordChange = "Password Changed"
	noticeLoggedOut      = "You have been logged out."

	errorNotCreated     = "User could not be created"
	errorUnknownEmail   = "Unknown user email."
	errorPasswordChange = "Password not changed: Please try again"
	errorInvalidLogin   = "Invalid email or password"
)

// Controller maps the account actions onto the lifecycle, gated by a
// SessionGuard built per request from the given SessionStore.
type Controller struct {
	lifecycle *Lifecycle
	views     ControllerViews
	home      string
	guardOpts []GuardOption
	logger    Logger
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithControllerViews overrides the template names.
func WithControllerViews(views ControllerViews) ControllerOption {
	return func(c *Controller) {
		c.views = views
	}
}

// WithHomePath sets where successful actions redirect.
func WithHomePath(path string) ControllerOption {
	return func(c *Controller) {
		if path != "" {
			c.home = path
		}
	}
}

// WithGuardOptions forwards options to every SessionGuard.
func WithGuardOptions(opts ...GuardOption) ControllerOption {
	return func(c *Controller) {
		c.guardOpts = append(c.guardOpts, opts...)
	}
}

// WithControllerLogger overrides the logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewController(lifecycle *Lifecycle, opts ...ControllerOption) *Controller {
	c := &Controller{
		lifecycle: lifecycle,
		home:      "/",
		logger:    defLogger{},
		views: ControllerViews{
			New:            "users/new",
			Edit:           "users/edit",
			ForgotPassword: "users/forgot_password",
			ResetPassword:  "users/reset_password",
			Login:          "login",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Guard returns the SessionGuard for session.
func (c *Controller) Guard(session SessionStore) *SessionGuard {
	opts := append([]GuardOption{WithGuardTokens(c.lifecycle.Tokens())}, c.guardOpts...)
	return NewSessionGuard(session, c.lifecycle, opts...)
}

// New renders an empty signup form, optionally prefilled.
func (c *Controller) New(ctx context.Context, session SessionStore, in Registration) (Response, error) {
	if _, err := c.Guard(session).Authorize(ctx, ActionNew); err != nil {
		return Response{}, err
	}
	return Response{
		View: c.views.New,
		User: &User{Email: normalizeEmail(in.Email), Name: in.Name, Phone: in.Phone},
	}, nil
}

// ValidateUser validates signup or profile attributes without saving. An
// empty result means the attributes are valid.
func (c *Controller) ValidateUser(ctx context.Context, session SessionStore, attrs Attributes, id *uuid.UUID) (FieldErrors, error) {
	if _, err := c.Guard(session).Authorize(ctx, ActionValidateUser); err != nil {
		return nil, err
	}
	return c.lifecycle.Validate(ctx, attrs, id)
}

// Create registers a user and stages the activation email.
func (c *Controller) Create(ctx context.Context, session SessionStore, in Registration) (Response, error) {
	if _, err := c.Guard(session).Authorize(ctx, ActionCreate); err != nil {
		return Response{}, err
	}

	result, err := c.lifecycle.Register(ctx, in)
	if err != nil {
		return Response{}, err
	}
	if !result.OK() {
		return Response{
			View:   c.views.New,
			Error:  errorNotCreated,
			User:   &User{Email: normalizeEmail(in.Email), Name: in.Name, Phone: in.Phone},
			Errors: result.Errors,
		}, nil
	}
	return Response{Redirect: c.home, Notice: noticeCreated, User: result.User}, nil
}

// Activate abandons the current session, activates the holder of code and
// logs them in.
func (c *Controller) Activate(ctx context.Context, session SessionStore, code string) (Response, error) {
	guard := c.Guard(session)
	if _, err := guard.Authorize(ctx, ActionActivate); err != nil {
		return Response{}, err
	}
	if err := guard.Abandon(ctx); err != nil {
		return Response{}, fatal(err, "failed to abandon session")
	}

	user, err := c.lifecycle.Activate(ctx, code)
	if err != nil {
		return Response{}, err
	}
	if err := guard.Login(ctx, user); err != nil {
		return Response{}, err
	}
	return Response{Redirect: c.home, Notice: noticeActivated, User: user}, nil
}

// ForgotPassword abandons the session and renders the reset request form.
func (c *Controller) ForgotPassword(ctx context.Context, session SessionStore) (Response, error) {
	guard := c.Guard(session)
	if _, err := guard.Authorize(ctx, ActionForgotPassword); err != nil {
		return Response{}, err
	}
	if err := guard.Abandon(ctx); err != nil {
		return Response{}, fatal(err, "failed to abandon session")
	}
	return Response{View: c.views.ForgotPassword}, nil
}

// PasswordResetKey abandons the session and emails a fresh reset key. An
// unknown email re-renders the form.
func (c *Controller) PasswordResetKey(ctx context.Context, session SessionStore, email string) (Response, error) {
	guard := c.Guard(session)
	if _, err := guard.Authorize(ctx, ActionPasswordResetKey); err != nil {
		return Response{}, err
	}
	if err := guard.Abandon(ctx); err != nil {
		return Response{}, fatal(err, "failed to abandon session")
	}

	user, err := c.lifecycle.RequestPasswordReset(ctx, email)
	if err != nil {
		if TextCode(err) == TextCodeUnknownEmail {
			c.logger.Debug("password reset requested for unknown email")
			return Response{View: c.views.ForgotPassword, Error: errorUnknownEmail}, nil
		}
		return Response{}, err
	}
	return Response{Redirect: c.home, Notice: noticeResetSent, User: user}, nil
}

// ResetPassword renders the password change form for a logged in user or,
// otherwise, for the holder of key. Presenting the key binds the session
// temporarily; it is not a login.
func (c *Controller) ResetPassword(ctx context.Context, session SessionStore, key string) (Response, error) {
	guard := c.Guard(session)
	current, binding, err := guard.authorize(ctx, ActionResetPassword)
	if err != nil {
		return Response{}, err
	}

	// a reset key binding is re-established from the presented key
	if current != nil && binding.Kind != BindingResetKey {
		return Response{View: c.views.ResetPassword, User: current}, nil
	}

	user, err := c.lifecycle.Tokens().Resolve(ctx, c.lifecycle.repo.Users(), key, ScopePasswordReset)
	if err != nil {
		return Response{}, err
	}
	if err := guard.BindTemporary(ctx, user); err != nil {
		return Response{}, err
	}
	return Response{View: c.views.ResetPassword, User: user}, nil
}

// ValidateResetPassword validates a password change for the session user
// without saving it.
func (c *Controller) ValidateResetPassword(ctx context.Context, session SessionStore, in PasswordChange) (FieldErrors, error) {
	user, binding, err := c.Guard(session).authorize(ctx, ActionValidateResetPassword)
	if err != nil {
		return nil, err
	}
	return c.lifecycle.ValidatePasswordChange(ctx, user.ID, withBoundKey(in, user, binding))
}

// UpdatePassword changes the session user's password. It requires the
// reset key the session was bound with, a reset key in the input or the
// current password. A reset key binding ends once the change succeeds.
func (c *Controller) UpdatePassword(ctx context.Context, session SessionStore, in PasswordChange) (Response, error) {
	guard := c.Guard(session)
	user, binding, err := guard.authorize(ctx, ActionUpdatePassword)
	if err != nil {
		return Response{}, err
	}

	result, err := c.lifecycle.ChangePassword(ctx, user.ID, withBoundKey(in, user, binding))
	if err != nil {
		return Response{}, err
	}
	if !result.OK() {
		return Response{
			View:   c.views.ResetPassword,
			Error:  errorPasswordChange,
			User:   user,
			Errors: result.Errors,
		}, nil
	}

	if binding.Kind == BindingResetKey {
		if err := guard.Abandon(ctx); err != nil {
			return Response{}, fatal(err, "failed to abandon session")
		}
	}
	return Response{Redirect: c.home, Notice: noticePasswordChange, User: result.User}, nil
}

// withBoundKey fills in the reset key of a reset key binding. The guard has
// already matched the binding against the key user holds now.
func withBoundKey(in PasswordChange, user *User, binding SessionBinding) PasswordChange {
	if binding.Kind == BindingResetKey {
		in.ResetKey = user.PasswordResetKey
	}
	return in
}

// Show renders the profile of id. It defers to the edit view.
func (c *Controller) Show(ctx context.Context, session SessionStore, id uuid.UUID) (Response, error) {
	return c.profile(ctx, session, ActionShow, id)
}

// Edit renders the profile form of id.
func (c *Controller) Edit(ctx context.Context, session SessionStore, id uuid.UUID) (Response, error) {
	return c.profile(ctx, session, ActionEdit, id)
}

// Update applies a profile update. Users may only update their own profile
// and password attributes are never applied here.
func (c *Controller) Update(ctx context.Context, session SessionStore, id uuid.UUID, attrs Attributes) (Response, error) {
	current, err := c.Guard(session).Authorize(ctx, ActionUpdate)
	if err != nil {
		return Response{}, err
	}
	if current.ID != id {
		return Response{}, NewUnauthorizedError("cannot update another user's profile", map[string]any{
			"user_id": id.String(),
		})
	}

	result, err := c.lifecycle.UpdateProfile(ctx, id, attrs.Profile())
	if err != nil {
		return Response{}, err
	}
	if !result.OK() {
		return Response{View: c.views.Edit, User: current, Errors: result.Errors}, nil
	}
	return Response{Redirect: c.home, Notice: noticeUpdated, User: result.User}, nil
}

// Login checks credentials and binds an active user to the session.
func (c *Controller) Login(ctx context.Context, session SessionStore, email, password string) (Response, error) {
	guard := c.Guard(session)
	if _, err := guard.Authorize(ctx, ActionLogin); err != nil {
		return Response{}, err
	}
	if err := guard.Abandon(ctx); err != nil {
		return Response{}, fatal(err, "failed to abandon session")
	}

	user, err := c.lifecycle.Authenticate(ctx, email, password)
	if err != nil {
		return Response{}, err
	}
	if user == nil || !user.IsActive() {
		return Response{View: c.views.Login, Error: errorInvalidLogin}, nil
	}
	if err := guard.Login(ctx, user); err != nil {
		return Response{}, err
	}
	return Response{Redirect: c.home, User: user}, nil
}

// Logout abandons the session.
func (c *Controller) Logout(ctx context.Context, session SessionStore) (Response, error) {
	guard := c.Guard(session)
	if _, err := guard.Authorize(ctx, ActionLogout); err != nil {
		return Response{}, err
	}
	if err := guard.Abandon(ctx); err != nil {
		return Response{}, fatal(err, "failed to abandon session")
	}
	c.lifecycle.record(ctx, ActivityEvent{EventType: ActivityEventSessionAbandoned})
	return Response{Redirect: c.home, Notice: noticeLoggedOut}, nil
}

func (c *Controller) profile(ctx context.Context, session SessionStore, action Action, id uuid.UUID) (Response, error) {
	if _, err := c.Guard(session).Authorize(ctx, action); err != nil {
		return Response{}, err
	}
	user, err := c.lifecycle.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return Response{View: c.views.Edit, User: user}, nil
}
