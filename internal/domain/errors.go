package domain

import "errors"

// Sentinel errors wrapped with %w by every layer. The transport maps them
// onto HTTP status codes; everything else tests with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)
