package types

import (
	"encoding/json"
	"time"
)

// Message type constants shared by every routing layer. Client and server
// agree on these strings, so they are defined once here.
const (
	// Manager -> client events
	MessageTypeRoomCreated     = "room_created"
	MessageTypeStudentJoin     = "student_join"
	MessageTypeStudentLeave    = "student_leave"
	MessageTypeAttentionUpdate = "attention_update"
	MessageTypeAlert           = "alert"
	MessageTypeClearAlert      = "clear_alert"
	MessageTypeRoomClosed      = "room_closed"
	MessageTypeError           = "error"
	MessageTypeParticipantList = "participant_list"
	MessageTypeStateUpdate     = "state_update"

	// Relayed peer traffic
	MessageTypeCameraFrame        = "camera_frame"
	MessageTypeTeacherFrame       = "teacher_frame"
	MessageTypeTeacherCameraFrame = "teacher_camera_frame"
	MessageTypeChatMessage        = "chat_message"
	MessageTypeRequestUpdate      = "request_update"

	// Keep-alive
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypeHeartbeatAck = "heartbeat_ack"

	// Signaling kinds routed by the relay
	MessageTypeReady         = "ready"
	MessageTypeOffer         = "offer"
	MessageTypeAnswer        = "answer"
	MessageTypeICECandidate  = "ice_candidate"
	MessageTypeStopped       = "stopped"
	MessageTypeSpeakingLevel = "speaking-level"
)

// Attention status values reported by students. The set is open: any value
// other than StatusAttentive is treated as a deviation, never coerced.
const (
	StatusAttentive   = "attentive"
	StatusLookingAway = "looking_away"
	StatusDrowsy      = "drowsy"
	StatusNoFace      = "no_face"
)

// Alert severities attached to attention alerts.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// WebSocket close codes used when the manager terminates a connection.
const (
	CloseCodeRoomClosed        = 4003
	CloseCodeRoomNotFound      = 4004
	CloseCodeDuplicateIdentity = 4005
)

// Message is the wire envelope for everything sent over a connection.
// Data stays a raw JSON blob so routing layers never have to understand
// payloads they only forward.
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// StudentInfo is the per-student metadata record kept in the room table and
// included verbatim in teacher-facing student lists.
type StudentInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	AlertCount int       `json:"alerts_count"`
}

// Participant is one entry of the participant_list event sent to a student
// after joining. Teachers appear with a synthesized identity.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// RoomCreatedData confirms room creation to the connecting teacher.
type RoomCreatedData struct {
	RoomID    string        `json:"room_id"`
	Students  []StudentInfo `json:"students"`
	Timestamp time.Time     `json:"timestamp"`
}

// MembershipData is the payload of student_join and student_leave events.
// Students is populated only on the teacher-facing copy: teachers always
// receive the full current list so their view is reconcilable from the
// latest event alone.
type MembershipData struct {
	StudentID   string        `json:"student_id"`
	StudentName string        `json:"student_name"`
	Students    []StudentInfo `json:"students,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// AttentionUpdateData carries a student's latest attention classification
// to the room's teachers.
type AttentionUpdateData struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Status      string    `json:"status"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertData carries an edge-triggered attention alert to the room's
// teachers.
type AlertData struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	AlertType   string    `json:"alert_type"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClearAlertData clears a previously raised alert.
type ClearAlertData struct {
	StudentID string `json:"student_id"`
}

// FrameData carries a camera frame in either direction. StudentID is empty
// on teacher_frame messages.
type FrameData struct {
	StudentID string    `json:"student_id,omitempty"`
	Frame     string    `json:"frame"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatData is a chat message fanned out to the whole room.
type ChatData struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserType  string    `json:"user_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantListData is sent to a student right after joining.
type ParticipantListData struct {
	Participants []Participant `json:"participants"`
}

// StateUpdateData answers a teacher's request_update with the full student
// list.
type StateUpdateData struct {
	Students []StudentInfo `json:"students"`
}

// NewMessage marshals a payload into a wire envelope. The payload types
// above cannot fail to marshal, so an error surfaces as an empty data field
// rather than an error return.
func NewMessage(msgType string, payload interface{}) Message {
	msg := Message{Type: msgType}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Data = data
		}
	}
	return msg
}

// NewErrorMessage builds the error envelope sent before rejecting a
// connection.
func NewErrorMessage(text string) Message {
	return Message{Type: MessageTypeError, Message: text}
}
