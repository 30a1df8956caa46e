package moduleaccess

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Custom errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("resource not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrRoleNotAvailable    = errors.New("role not available in module")
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// classifyStorageError wraps unique and foreign key violations in
// ErrConstraintViolation and passes everything else through untouched.
func classifyStorageError(err error) error {
	if err == nil {
		return nil
	}
	switch sqlState(err) {
	case sqlStateUniqueViolation, sqlStateForeignKeyViolation:
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}

// sqlState extracts the SQLSTATE code from either postgres driver.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
