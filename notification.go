package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NotificationKind names the email a notification intent asks for.
type NotificationKind string

const (
	NotificationActivation    NotificationKind = "signup"
	NotificationWelcome       NotificationKind = "activation"
	NotificationPasswordReset NotificationKind = "password_reset_key"
)

// Notification is a notification intent. It is written to the outbox in the
// same transaction as the state change it belongs to.
type Notification struct {
	bun.BaseModel `bun:"table:account_notifications,alias:ntf"`
	ID            uuid.UUID        `bun:"id,pk,type:uuid" json:"id"`
	Kind          NotificationKind `bun:"kind,notnull" json:"kind"`
	UserID        uuid.UUID        `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Email         string           `bun:"email,notnull" json:"email"`
	Subject       string           `bun:"subject" json:"subject"`
	Params        map[string]any   `bun:"params,type:json" json:"params,omitempty"`
	CreatedAt     *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	SentAt        *time.Time       `bun:"sent_at,nullzero" json:"sent_at,omitempty"`
	// ClaimedAt marks a delivery in flight. Only the dispatcher that set it
	// sends the row; a claim older than the lease is considered abandoned.
	ClaimedAt *time.Time `bun:"claimed_at,nullzero" json:"-"`
}

// Notifier delivers notification intents. Delivery runs after commit and is
// fire-and-forget relative to the request.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n *Notification) error

func (f NotifierFunc) Send(ctx context.Context, n *Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// LogNotifier only logs the intent. It is the default when no Notifier is
// configured.
type LogNotifier struct {
	Logger Logger
}

// Links carry activation codes and reset keys, so they only go to the debug
// level.
func (l LogNotifier) Send(_ context.Context, n *Notification) error {
	logger := normalizeLogger(l.Logger)
	logger.Info("notification kind=%s to=%s subject=%q", n.Kind, n.Email, n.Subject)
	logger.Debug("notification %s link=%v", n.ID, n.Params["link"])
	return nil
}

func newNotification(kind NotificationKind, user *User, subject string, params map[string]any) *Notification {
	if params == nil {
		params = map[string]any{}
	}
	params["email"] = user.Email
	params["name"] = user.Name
	return &Notification{
		ID:      uuid.New(),
		Kind:    kind,
		UserID:  user.ID,
		Email:   user.Email,
		Subject: subject,
		Params:  params,
	}
}
