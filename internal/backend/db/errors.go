package db

import "errors"

// Errors returned by write operations. They survive the HTTP API round trip,
// so callers can check them with errors.Is regardless of transport.
var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotOwner is returned when the principal does not own the row it
	// tries to modify.
	ErrNotOwner = errors.New("record not owned by principal")

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("record already exists")

	// ErrInvalid is returned when the row fails schema validation.
	ErrInvalid = errors.New("invalid record")
)
