package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the resource state does not allow the operation.
	ErrConflict = errors.New("conflict")
)

// FieldErrors collects per-field validation messages.
// It matches ErrValidation through errors.Is.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap exposes ErrValidation.
func (f FieldErrors) Unwrap() error { return ErrValidation }

// Add records a message for field, keeping the first one.
func (f FieldErrors) Add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

// Err returns nil when no field failed.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

// UserSafeMessage returns a message that can be shown to API clients.
// Errors outside the taxonomy are replaced with a generic message.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsDomainError(err) {
		return err.Error()
	}
	return "internal error"
}

// IsDomainError reports whether err belongs to the NotFound/Validation/Conflict taxonomy.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}
