package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Field names a unique lookup column.
type Field string

const (
	FieldEmail            Field = "email"
	FieldActivationCode   Field = "activation_code"
	FieldPasswordResetKey Field = "password_reset_key"
)

// UserFinder looks users up by a unique field. A miss returns nil, nil.
type UserFinder interface {
	FindBy(ctx context.Context, field Field, value string) (*User, error)
}

// UserStore is the persistence collaborator for users.
type UserStore interface {
	UserFinder
	// Get returns a NotFound error when id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	// Update persists the given columns, or every column when none are given.
	Update(ctx context.Context, user *User, columns ...string) error
	// MarkActivated flips activated from false to true. It reports false
	// when the user was already active.
	MarkActivated(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Tx is a unit of work. Notifications staged with Notify are only handed to
// the Notifier once the transaction has committed.
type Tx interface {
	Users() UserStore
	Notify(ctx context.Context, n *Notification) error
}

// Repository exposes the user store and the unit of work boundary.
type Repository interface {
	Users() UserStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
