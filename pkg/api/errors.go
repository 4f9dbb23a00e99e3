package api

import "errors"

var (
	// ErrEntityNotFound is returned for missing flows, versions and
	// simulation sessions.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrLockTimeout is returned when a named lock could not be acquired
	// within its timeout.
	ErrLockTimeout = errors.New("lock acquire timeout")

	// ErrQueueClosed is returned by a backend after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrInvalidJob is returned when a job fails validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrUnauthorized is not produced by this module; it is propagated
	// unchanged when collaborators return it.
	ErrUnauthorized = errors.New("unauthorized")
)
