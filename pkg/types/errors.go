package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidStudentID   = errors.New("student ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrInvalidRoomCode    = errors.New("room code must be 6 characters from the code alphabet")
)
