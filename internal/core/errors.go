package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// UserError is a business-rule violation surfaced to the end user verbatim
// (duplicate value, blocked deletion, singleton violation).
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError is a field-level input error, optionally carrying a
// per-field error map for form rendering.
type ValidationError struct {
	Message     string
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AccessError signals a missing permission for an action.
type AccessError struct {
	Message            string
	RequiredPermission string
}

func (e *AccessError) Error() string { return e.Message }

func NewAccessError(format string, args ...any) *AccessError {
	return &AccessError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError signals a missing or invalid identity.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

func NewAuthenticationError(format string, args ...any) *AuthenticationError {
	return &AuthenticationError{Message: fmt.Sprintf(format, args...)}
}

// Postgres error codes relevant to constraint translation.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// translateDBError maps storage-layer constraint violations into the user
// error taxonomy. Raw database errors must never reach the transport
// boundary, so every create/write/unlink path funnels through here.
func translateDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return NewUserError("A record with the same unique value already exists.")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return NewUserError("Cannot complete this operation because related data depends on it.")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewUserError("Record not found.")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return NewUserError("A record with the same unique value already exists.")
		case pgForeignKeyViolation:
			return NewUserError("Cannot complete this operation because related data depends on it.")
		case pgNotNullViolation:
			return NewValidationError("Missing required value for column '%s'.", pgErr.ColumnName)
		}
	}

	// Driver-agnostic fallback (the sqlite driver reports constraint
	// violations as plain strings).
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return NewUserError("A record with the same unique value already exists.")
	case strings.Contains(msg, "foreign key constraint"):
		return NewUserError("Cannot complete this operation because related data depends on it.")
	}

	return NewValidationError("Database error: %v", err)
}

// HTTPStatus maps the error taxonomy onto HTTP status codes for the
// transport layer. Unclassified errors map to 500 and their details are
// expected to be logged, not shown.
func HTTPStatus(err error) int {
	var (
		userErr *UserError
		valErr  *ValidationError
		accErr  *AccessError
		authErr *AuthenticationError
	)
	switch {
	case errors.As(err, &userErr):
		return http.StatusBadRequest
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &accErr):
		return http.StatusForbidden
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
