package account

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// FieldErrors maps a field name to its validation messages. It is the
// payload used to re-render a form.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, message string) FieldErrors {
	f[field] = append(f[field], message)
	return f
}

// Merge copies all messages from other into f.
func (f FieldErrors) Merge(other FieldErrors) FieldErrors {
	for field, messages := range other {
		f[field] = append(f[field], messages...)
	}
	return f
}

// Empty reports whether there are no messages.
func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

// Fields returns the sorted field names.
func (f FieldErrors) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// fieldErrorsFrom converts ozzo validation output into FieldErrors.
// Internal validation failures are returned as err.
func fieldErrorsFrom(verr error) (FieldErrors, error) {
	out := FieldErrors{}
	if verr == nil {
		return out, nil
	}

	var errs validation.Errors
	if !errors.As(verr, &errs) {
		return nil, verr
	}

	for field, err := range errs {
		if err == nil {
			continue
		}
		out.Add(field, err.Error())
	}
	return out, nil
}

// Result is returned by every mutating lifecycle operation. Validation
// failures are data: User is nil and Errors is populated.
type Result struct {
	User   *User
	Errors FieldErrors
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.User != nil && r.Errors.Empty()
}

// Err converts validation failures into a rich validation error for callers
// that prefer error flow. It returns nil when the result is OK.
func (r Result) Err() error {
	if r.Errors.Empty() {
		return nil
	}
	return goerrors.New("validation failed", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": map[string][]string(r.Errors)})
}

func invalid(errs FieldErrors) Result {
	return Result{Errors: errs}
}
