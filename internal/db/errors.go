package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/chicify/socialgraph/internal/graph"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)

// IsUniqueViolation checks if the error is a unique constraint violation,
// either translated by gorm or carried in the driver message.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || containsErrorCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation checks if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, gorm.ErrForeignKeyViolated) || containsErrorCode(err, CodeForeignKeyViolation)
}

func containsErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLSTATE "+code) || strings.Contains(err.Error(), "("+code+")")
}

// wrap marks err as a database that could not serve the request. Callers
// handle the outcomes they expect before wrapping.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return graph.Unavailable(op, err)
}
