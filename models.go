package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account model. Transient password values never live here,
// see Registration and PasswordChange.
type User struct {
	bun.BaseModel            `bun:"table:users,alias:usr"`
	ID                       uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email                    string     `bun:"email,notnull,unique" json:"email"`
	Name                     string     `bun:"name" json:"name,omitempty"`
	Phone                    string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash             string     `bun:"password_hash,notnull" json:"-"`
	ActivationCode           string     `bun:"activation_code,notnull,unique" json:"-"`
	Activated                bool       `bun:"activated,notnull,default:false" json:"activated"`
	ActivatedAt              *time.Time `bun:"activated_at,nullzero" json:"activated_at,omitempty"`
	PasswordResetKey         string     `bun:"password_reset_key,nullzero,unique" json:"-"`
	PasswordResetRequestedAt *time.Time `bun:"password_reset_requested_at,nullzero" json:"password_reset_requested_at,omitempty"`
	CreatedAt                *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt                *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ActivationState returns the position of the user on the activation axis.
func (u *User) ActivationState() State {
	if u == nil {
		return StateUnregistered
	}
	if u.Activated {
		return StateActive
	}
	return StatePendingActivation
}

// PasswordState returns the position of the user on the password axis.
func (u *User) PasswordState() State {
	if u != nil && u.PasswordResetKey != "" {
		return StateResetPending
	}
	return StateNormal
}

// IsActive is a convenience for ActivationState() == StateActive.
func (u *User) IsActive() bool {
	return u.ActivationState() == StateActive
}

// Registration is the input for sign up.
type Registration struct {
	Email                string `json:"email" form:"email"`
	Name                 string `json:"name" form:"name"`
	Phone                string `json:"phone_number" form:"phone_number"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

// ProfileUpdate is the input for profile edits. It has no password fields;
// passwords only change through PasswordChange.
type ProfileUpdate struct {
	Email *string `json:"email,omitempty" form:"email"`
	Name  *string `json:"name,omitempty" form:"name"`
	Phone *string `json:"phone_number,omitempty" form:"phone_number"`
}

// Apply copies the set fields onto user and returns the changed columns.
func (p ProfileUpdate) Apply(user *User) []string {
	columns := []string{}
	if p.Email != nil {
		user.Email = normalizeEmail(*p.Email)
		columns = append(columns, "email")
	}
	if p.Name != nil {
		user.Name = strings.TrimSpace(*p.Name)
		columns = append(columns, "name")
	}
	if p.Phone != nil {
		user.Phone = strings.TrimSpace(*p.Phone)
		columns = append(columns, "phone_number")
	}
	return columns
}

// PasswordChange is the input for the dedicated password change path.
type PasswordChange struct {
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
	CurrentPassword      string `json:"current_password" form:"current_password"`
	// ResetKey is the reset key presented by the caller, if any.
	ResetKey string `json:"reset_key" form:"reset_key"`
}

// Attributes is a generic attribute bag as decoded by a presentation layer.
type Attributes map[string]string

// Profile converts the bag into a ProfileUpdate. Password keys are dropped
// whatever their value.
func (a Attributes) Profile() ProfileUpdate {
	out := ProfileUpdate{}
	if v, ok := a["email"]; ok {
		out.Email = &v
	}
	if v, ok := a["name"]; ok {
		out.Name = &v
	}
	if v, ok := a["phone_number"]; ok {
		out.Phone = &v
	}
	return out
}

// Registration converts the bag into a Registration.
func (a Attributes) Registration() Registration {
	return Registration{
		Email:                a["email"],
		Name:                 a["name"],
		Phone:                a["phone_number"],
		Password:             a["password"],
		PasswordConfirmation: a["password_confirmation"],
	}
}

// PasswordChange converts the bag into a PasswordChange.
func (a Attributes) PasswordChange() PasswordChange {
	return PasswordChange{
		Password:             a["password"],
		PasswordConfirmation: a["password_confirmation"],
		CurrentPassword:      a["current_password"],
		ResetKey:             a["reset_key"],
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
