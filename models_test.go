package account

import (
	"reflect"
	"testing"
)

func TestUserStateHelpers(t *testing.T) {
	cases := []struct {
		name       string
		user       *User
		activation State
		password   State
	}{
		{
			name:       "nil user",
			user:       nil,
			activation: StateUnregistered,
			password:   StateNormal,
		},
		{
			name:       "pending",
			user:       &User{ActivationCode: "code"},
			activation: StatePendingActivation,
			password:   StateNormal,
		},
		{
			name:       "active with reset pending",
			user:       &User{Activated: true, PasswordResetKey: "key"},
			activation: StateActive,
			password:   StateResetPending,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.ActivationState(); got != tc.activation {
				t.Fatalf("expected activation state %q, got %q", tc.activation, got)
			}
			if got := tc.user.PasswordState(); got != tc.password {
				t.Fatalf("expected password state %q, got %q", tc.password, got)
			}
			if got := tc.user.IsActive(); got != (tc.activation == StateActive) {
				t.Fatalf("unexpected IsActive %v", got)
			}
		})
	}
}

func TestProfileUpdateApply(t *testing.T) {
	email := "  Grace@Example.com "
	name := " Grace "
	user := &User{Email: "ada@example.com", Name: "Ada", PasswordHash: "hash"}

	columns := ProfileUpdate{Email: &email, Name: &name}.Apply(user)

	if !reflect.DeepEqual(columns, []string{"email", "name"}) {
		t.Fatalf("unexpected columns %v", columns)
	}
	if user.Email != "grace@example.com" || user.Name != "Grace" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash != "hash" {
		t.Fatalf("password hash must not change")
	}

	if columns := (ProfileUpdate{}).Apply(user); len(columns) != 0 {
		t.Fatalf("expected no columns, got %v", columns)
	}
}

func TestAttributesProfileDropsPasswords(t *testing.T) {
	attrs := Attributes{
		"name":                  "Ada",
		"password":              "secret",
		"password_confirmation": "secret",
		"current_password":      "old",
	}

	profile := attrs.Profile()
	if profile.Name == nil || *profile.Name != "Ada" {
		t.Fatalf("expected name to be set")
	}
	if profile.Email != nil || profile.Phone != nil {
		t.Fatalf("unset attributes must stay nil")
	}

	change := attrs.PasswordChange()
	if change.Password != "secret" || change.CurrentPassword != "old" {
		t.Fatalf("unexpected password change %+v", change)
	}

	reg := Attributes{"email": "a@b.co", "phone_number": "123"}.Registration()
	if reg.Email != "a@b.co" || reg.Phone != "123" || reg.Password != "" {
		t.Fatalf("unexpected registration %+v", reg)
	}
}
