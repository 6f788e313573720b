package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

const (
	msgEmailInUse             = "email already in use"
	msgInvalidEmail           = "must be a valid email address"
	msgInvalidPhone           = "must be a valid phone number"
	msgPasswordMismatch       = "does not match password"
	msgIncorrectCurrentPasswd = "Incorrect current password"
	maxPasswordLength         = 100
)

// CredentialValidator hashes and verifies passwords and validates account
// attributes.
type CredentialValidator struct {
	hasher      PasswordHasher
	minLength   int
	phoneRegion string
}

// CredentialOption customizes a CredentialValidator.
type CredentialOption func(*CredentialValidator)

// WithPasswordHasher overrides the bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) CredentialOption {
	return func(v *CredentialValidator) {
		if h != nil {
			v.hasher = h
		}
	}
}

// WithPasswordMinLength sets the minimum accepted password length.
func WithPasswordMinLength(n int) CredentialOption {
	return func(v *CredentialValidator) {
		if n > 0 {
			v.minLength = n
		}
	}
}

// WithPhoneRegion sets the region used to parse numbers without a country
// prefix.
func WithPhoneRegion(region string) CredentialOption {
	return func(v *CredentialValidator) {
		if region != "" {
			v.phoneRegion = strings.ToUpper(region)
		}
	}
}

func NewCredentialValidator(opts ...CredentialOption) *CredentialValidator {
	v := &CredentialValidator{
		hasher:      BcryptHasher{},
		minLength:   8,
		phoneRegion: "US",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Hash hashes password with the configured hasher.
func (v *CredentialValidator) Hash(password string) (string, error) {
	return v.hasher.HashPassword(password)
}

// Authenticate returns the user owning email when password matches its
// hash. Unknown emails and mismatches return nil without an error; only
// store failures are errors.
func (v *CredentialValidator) Authenticate(ctx context.Context, users UserFinder, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil
	}

	user, err := users.FindBy(ctx, FieldEmail, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		return nil, nil
	}

	if err := v.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, nil
	}
	return user, nil
}

// ValidateRegistration checks sign up attributes, including that the email
// is not taken.
func (v *CredentialValidator) ValidateRegistration(ctx context.Context, users UserFinder, in Registration) (FieldErrors, error) {
	in.Email = normalizeEmail(in.Email)

	errs, err := fieldErrorsFrom(validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), validation.By(emailFormat)),
		validation.Field(&in.Name, validation.Length(0, 200)),
		validation.Field(&in.Phone, validation.By(v.phoneNumber)),
		validation.Field(&in.Password, validation.Required, validation.Length(v.minLength, maxPasswordLength)),
		validation.Field(&in.PasswordConfirmation, validation.Required, validation.By(matches(in.Password))),
	))
	if err != nil {
		return nil, err
	}

	if err := v.checkEmailAvailable(ctx, users, in.Email, uuid.Nil, errs); err != nil {
		return nil, err
	}
	return errs, nil
}

// ValidateProfile checks the fields set on in against user.
func (v *CredentialValidator) ValidateProfile(ctx context.Context, users UserFinder, user *User, in ProfileUpdate) (FieldErrors, error) {
	rules := []*validation.FieldRules{}
	if in.Email != nil {
		rules = append(rules, validation.Field(&in.Email, validation.Required, validation.Length(3, 254), validation.By(emailFormat)))
	}
	if in.Name != nil {
		rules = append(rules, validation.Field(&in.Name, validation.Length(0, 200)))
	}
	if in.Phone != nil {
		rules = append(rules, validation.Field(&in.Phone, validation.By(v.phoneNumber)))
	}

	errs, err := fieldErrorsFrom(validation.ValidateStruct(&in, rules...))
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		id := uuid.Nil
		if user != nil {
			id = user.ID
		}
		if err := v.checkEmailAvailable(ctx, users, normalizeEmail(*in.Email), id, errs); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

// ValidatePassword checks a new password and its confirmation.
func (v *CredentialValidator) ValidatePassword(in PasswordChange) FieldErrors {
	errs, err := fieldErrorsFrom(validation.ValidateStruct(&in,
		validation.Field(&in.Password, validation.Required, validation.Length(v.minLength, maxPasswordLength)),
		validation.Field(&in.PasswordConfirmation, validation.Required, validation.By(matches(in.Password))),
	))
	if err != nil {
		return FieldErrors{"password": {err.Error()}}
	}
	return errs
}

func (v *CredentialValidator) checkEmailAvailable(ctx context.Context, users UserFinder, email string, owner uuid.UUID, errs FieldErrors) error {
	if email == "" || len(errs["email"]) > 0 {
		return nil
	}
	existing, err := users.FindBy(ctx, FieldEmail, email)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != owner {
		errs.Add("email", msgEmailInUse)
	}
	return nil
}

func (v *CredentialValidator) phoneNumber(value any) error {
	s, ok := stringValue(value)
	if !ok || s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, v.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New(msgInvalidPhone)
	}
	return nil
}

func emailFormat(value any) error {
	s, ok := stringValue(value)
	if !ok || s == "" {
		return nil
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != strings.TrimSpace(s) {
		return errors.New(msgInvalidEmail)
	}
	return nil
}

func matches(password string) validation.RuleFunc {
	return func(value any) error {
		s, _ := stringValue(value)
		if s != password {
			return errors.New(msgPasswordMismatch)
		}
		return nil
	}
}

func stringValue(value any) (string, bool) {
	v, isNil := validation.Indirect(value)
	if isNil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
