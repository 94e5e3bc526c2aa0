package tabledb

import "errors"

var (
	// ErrUnknownTable is returned when an operation references a table that
	// does not exist.
	ErrUnknownTable = errors.New("unknown table")
	// ErrAlreadyExists is returned when creating a database whose name is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned when a database does not exist or was deleted.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed names or schemas.
	ErrInvalidInput = errors.New("invalid input")
)
