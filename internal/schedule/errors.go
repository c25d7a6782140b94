package schedule

import "errors"

// Validation errors for schedule value types and catalog construction.
var (
	ErrInvalidProgram   = errors.New("invalid program")
	ErrInvalidPool      = errors.New("invalid pool")
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidCatalog   = errors.New("invalid catalog")
)
