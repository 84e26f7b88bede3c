package db

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound = errors.New("db: document not found")
	ErrExists   = errors.New("db: document already exists")
	ErrClosed   = errors.New("db: gateway closed")
)

// Op names for error context.
const (
	OpGet       = "get"
	OpExists    = "exists"
	OpList      = "list"
	OpQuery     = "query"
	OpAggregate = "aggregate"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpCommit    = "commit"
	OpPing      = "ping"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
