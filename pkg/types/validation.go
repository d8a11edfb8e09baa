package types

import "regexp"

// Compiled once at package initialization; connection setup validates on
// every join attempt.
var (
	studentIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomCodeRegex  = regexp.MustCompile(`^[A-Z2-9]{6}$`)
)

// IsValidStudentID checks a caller-supplied student identity. Identities
// are opaque strings but must be safe to use as map keys and in logs.
func IsValidStudentID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return studentIDRegex.MatchString(id)
}

// IsValidDisplayName bounds display names; content is otherwise free-form.
func IsValidDisplayName(name string) bool {
	return len(name) >= 1 && len(name) <= 100
}

// IsValidRoomCode checks the shape of a room code before any table lookup.
// Shape only: whether the code names a live room is the room table's call.
func IsValidRoomCode(code string) bool {
	return roomCodeRegex.MatchString(code)
}

// IsDeviation reports whether an attention status is a non-attentive
// deviation. Unrecognized values count as deviations.
func IsDeviation(status string) bool {
	return status != StatusAttentive
}
