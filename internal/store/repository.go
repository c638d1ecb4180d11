// Package store is the single persistence adapter for the qualification
// domain. Every other component reads and mutates the relational store
// through this package; it maps row-level failures to typed domain errors.
package store

import (
	"errors"

	"github.com/TDXCORE/Agent-Test/platform/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides typed CRUD over the entity set.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a repository backed by the given connection pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// constraintViolation maps Postgres integrity errors to typed conflicts so
// callers never see a raw driver error for an invariant breach.
func constraintViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return apperr.Conflict("constraint violation: " + pgErr.ConstraintName)
	case "23503": // foreign_key_violation
		return apperr.Conflict("referenced entity does not exist: " + pgErr.ConstraintName)
	case "23514": // check_violation
		return apperr.Conflict("constraint violation: " + pgErr.ConstraintName)
	}
	return nil
}
