package account

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/uptrace/bun"
)

// RepositoryManager is the bun backed Repository. Notification intents are
// written to the outbox table inside the transaction and delivered once it
// has committed.
type RepositoryManager struct {
	db       *bun.DB
	users    UserStore
	notifier Notifier
	logger   Logger
	txOpts   *sql.TxOptions
	lease    time.Duration
	now      func() time.Time
}

// DefaultClaimLease is how long a delivery claim blocks other dispatchers.
const DefaultClaimLease = 5 * time.Minute

var _ Repository = (*RepositoryManager)(nil)

// RepositoryOption customizes a RepositoryManager.
type RepositoryOption func(*RepositoryManager)

// WithNotifier sets the collaborator that delivers committed intents.
func WithNotifier(n Notifier) RepositoryOption {
	return func(m *RepositoryManager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithRepositoryLogger overrides the logger used for delivery failures.
func WithRepositoryLogger(l Logger) RepositoryOption {
	return func(m *RepositoryManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClaimLease sets how long a delivery in flight is protected from
// redelivery before it is considered abandoned.
func WithClaimLease(lease time.Duration) RepositoryOption {
	return func(m *RepositoryManager) {
		if lease > 0 {
			m.lease = lease
		}
	}
}

// WithTxOptions sets the isolation options of every unit of work.
func WithTxOptions(opts *sql.TxOptions) RepositoryOption {
	return func(m *RepositoryManager) {
		m.txOpts = opts
	}
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryOption) *RepositoryManager {
	m := &RepositoryManager{
		db:     db,
		users:  NewUsersRepository(db),
		logger: defLogger{},
		lease:  DefaultClaimLease,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{Logger: m.logger}
	}
	return m
}

func (m *RepositoryManager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}
	return nil
}

func (m *RepositoryManager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *RepositoryManager) Users() UserStore {
	return m.users
}

func (m *RepositoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var staged []*Notification
	err := m.db.RunInTx(ctx, m.txOpts, func(ctx context.Context, tx bun.Tx) error {
		scope := &txScope{tx: tx, users: NewUsersRepository(tx), now: m.now}
		if err := fn(ctx, scope); err != nil {
			return err
		}
		staged = scope.staged
		return nil
	})
	if err != nil {
		return err
	}

	if len(staged) > 0 {
		go m.dispatch(context.WithoutCancel(ctx), staged)
	}
	return nil
}

// dispatch hands committed intents to the notifier and stamps the outbox
// rows that were delivered. Each row is claimed first so a row is never
// sent by two dispatchers at once.
func (m *RepositoryManager) dispatch(ctx context.Context, staged []*Notification) {
	for _, n := range staged {
		claimed, err := m.claim(ctx, n)
		if err != nil {
			m.logger.Error("notification %s could not be claimed: %v", n.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		if err := m.notifier.Send(ctx, n); err != nil {
			m.logger.Error("notification %s (%s) to %s failed: %v", n.ID, n.Kind, n.Email, err)
			m.release(ctx, n)
			continue
		}

		sentAt := m.now()
		n.SentAt = &sentAt
		if _, err := m.db.NewUpdate().
			Model(n).
			Column("sent_at").
			WherePK().
			Exec(ctx); err != nil {
			m.logger.Warn("notification %s delivered but not marked as sent: %v", n.ID, err)
		}
	}
}

// claim marks n as in flight unless it was delivered or another dispatcher
// holds a live claim on it.
func (m *RepositoryManager) claim(ctx context.Context, n *Notification) (bool, error) {
	now := m.now()
	res, err := m.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("claimed_at = ?", now).
		Where("id = ?", n.ID).
		Where("sent_at IS NULL").
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("claimed_at IS NULL").
				WhereOr("claimed_at < ?", now.Add(-m.lease))
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected != 1 {
		return false, nil
	}
	n.ClaimedAt = &now
	return true, nil
}

// release drops the claim of a failed delivery so the next Redeliver can
// retry it without waiting for the lease.
func (m *RepositoryManager) release(ctx context.Context, n *Notification) {
	if _, err := m.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("claimed_at = NULL").
		Where("id = ?", n.ID).
		Where("sent_at IS NULL").
		Exec(ctx); err != nil {
		m.logger.Warn("notification %s claim not released: %v", n.ID, err)
		return
	}
	n.ClaimedAt = nil
}

// PendingNotifications returns outbox rows that were never delivered.
func (m *RepositoryManager) PendingNotifications(ctx context.Context) ([]*Notification, error) {
	var records []*Notification
	err := m.db.NewSelect().
		Model(&records).
		Where("?TableAlias.sent_at IS NULL").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Redeliver retries undelivered outbox rows synchronously. Rows another
// dispatcher is still sending are skipped.
func (m *RepositoryManager) Redeliver(ctx context.Context) (int, error) {
	pending, err := m.PendingNotifications(ctx)
	if err != nil {
		return 0, err
	}
	m.dispatch(ctx, pending)

	delivered := 0
	for _, n := range pending {
		if n.SentAt != nil {
			delivered++
		}
	}
	return delivered, nil
}

type txScope struct {
	tx     bun.Tx
	users  UserStore
	staged []*Notification
	now    func() time.Time
}

func (s *txScope) Users() UserStore {
	return s.users
}

func (s *txScope) Notify(ctx context.Context, n *Notification) error {
	if n == nil {
		return errors.New("notification is nil")
	}
	if n.CreatedAt == nil {
		now := s.now()
		n.CreatedAt = &now
	}
	if _, err := s.tx.NewInsert().Model(n).Exec(ctx); err != nil {
		return err
	}
	s.staged = append(s.staged, n)
	return nil
}
