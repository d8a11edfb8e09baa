package room

import "errors"

// Room manager error types.
var (
	ErrRoomNotFound       = errors.New("room not found or has no active teacher")
	ErrIdentityInUse      = errors.New("student identity already connected")
	ErrIdentityNotFound   = errors.New("identity not connected")
	ErrCodeSpaceExhausted = errors.New("unable to generate unique room code")
)
