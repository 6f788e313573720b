package account

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var userLookupColumns = map[Field]string{
	FieldEmail:            "email",
	FieldActivationCode:   "activation_code",
	FieldPasswordResetKey: "password_reset_key",
}

type users struct {
	db  bun.IDB
	now func() time.Time
}

var _ UserStore = (*users)(nil)

// NewUsersRepository returns a bun backed UserStore. db may be a *bun.DB or
// a bun.Tx.
func NewUsersRepository(db bun.IDB) UserStore {
	return &users{db: db, now: time.Now}
}

func (a *users) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("user not found", map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) FindBy(ctx context.Context, field Field, value string) (*User, error) {
	column, ok := userLookupColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	if value == "" {
		return nil, nil
	}

	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record, a.now())
	if _, err := a.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (a *users) Update(ctx context.Context, record *User, columns ...string) error {
	now := a.now()
	record.UpdatedAt = &now

	q := a.db.NewUpdate().Model(record).WherePK()
	if len(columns) > 0 {
		q = q.Column(append(columns, "updated_at")...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NewNotFoundError("user not found", map[string]any{"id": record.ID.String()})
	}
	return nil
}

func (a *users) MarkActivated(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("activated = ?", true).
		Set("activated_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("activated = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = normalizeEmail(record.Email)
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}
