package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAPIKey indicates the caller presented an unknown API key.
	ErrInvalidAPIKey = errors.New("invalid api key")
)
