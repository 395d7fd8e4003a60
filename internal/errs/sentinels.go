// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/client layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEntityPending indicates the entity already has an outstanding optimistic
	// operation; a second apply against it is rejected instead of risking a wrong
	// pre-image on revert.
	ErrEntityPending = errors.New("entity has a pending operation")

	// ErrUnknownSaga indicates an advance against a saga id with no live local
	// mapping. This is a programming defect, not a transient condition.
	ErrUnknownSaga = errors.New("unknown saga")

	// ErrSagaFinished indicates an attempt to advance a saga that has already
	// completed all of its steps.
	ErrSagaFinished = errors.New("saga already finished")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateSlug indicates a unique constraint violation on a link slug.
	ErrDuplicateSlug = errors.New("slug already exists")
)
