package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrDatasourceLimitReached = errors.New("datasource limit reached")
	ErrInvalidRole            = errors.New("invalid role")
	ErrLastAdmin              = errors.New("cannot remove last admin")
	ErrCredentialsKeyMismatch = errors.New("datasource credentials were encrypted with a different key")

	// Semantic layer (C1)
	ErrMissingFormula       = errors.New("calculated metric must have a formula")
	ErrMissingColumnMapping = errors.New("field must have table and column")
	ErrStaleFormula         = errors.New("formula no longer resolves against the current schema snapshot")

	// Plan validation / SQL synthesis (C6, C7)
	ErrUnknownField = errors.New("plan references an unknown metric or dimension")
	ErrNoJoinPath   = errors.New("no join path connects the referenced tables")

	// RLS (C9)
	ErrForbiddenTable = errors.New("table is denied by row-level security")

	// Orchestrator admission control
	ErrOverloaded = errors.New("pipeline is overloaded")
)
