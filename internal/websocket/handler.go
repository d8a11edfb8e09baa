package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/attention"
	"liveclass/internal/config"
	"liveclass/internal/history"
	"liveclass/internal/room"
	"liveclass/internal/signal"
	"liveclass/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Room codes are the access secret; origins are not restricted.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler owns the teacher and student WebSocket endpoints. Each accepted
// connection gets one handler goroutine that processes its inbound stream
// strictly in order; fan-out to other connections goes through the room
// manager.
type Handler struct {
	manager  *room.Manager
	analyzer *attention.Analyzer
	relay    *signal.Relay
	history  *history.Store // nil when the event log is disabled
	cfg      *config.WebSocketConfig
}

// NewHandler creates a handler with its collaborators injected.
func NewHandler(manager *room.Manager, analyzer *attention.Analyzer, relay *signal.Relay, store *history.Store, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		manager:  manager,
		analyzer: analyzer,
		relay:    relay,
		history:  store,
		cfg:      cfg,
	}
}

// HandleTeacher serves GET /ws/teacher?name=. Every connect creates a
// brand-new room; rejoining an existing room is a client-side concern.
func (h *Handler) HandleTeacher(w http.ResponseWriter, r *http.Request) {
	displayName := r.URL.Query().Get("name")
	if displayName == "" {
		displayName = "Teacher"
	}
	if !types.IsValidDisplayName(displayName) {
		http.Error(w, types.ErrInvalidDisplayName.Error(), http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := NewConnection(ws, h.cfg.BufferSize, h.cfg.WriteTimeout, h.cfg.ReadTimeout)

	code, err := h.manager.ConnectTeacher(conn, displayName)
	if err != nil {
		// Code space exhausted: a service-unavailable condition, not
		// something to retry on the server side.
		log.Printf("Teacher connect failed: %v", err)
		if werr := conn.WriteJSON(types.NewErrorMessage("Unable to create a room right now")); werr != nil {
			log.Printf("Failed to send connect error: %v", werr)
		}
		_ = conn.CloseWithCode(websocket.CloseTryAgainLater, "No room codes available")
		return
	}

	defer func() {
		h.manager.DisconnectTeacher(conn)
		_ = conn.Close()
	}()

	// Keep-alive probe bound to the connection's lifetime. Done() fires on
	// every disconnect path, so the prober can never outlive the teacher.
	go h.pingLoop(conn)

	teacherID := room.TeacherIdentity(code)
	for {
		msg, err := h.readMessage(conn)
		if err != nil {
			log.Printf("Teacher connection for room %s closed: %v", code, err)
			return
		}

		switch {
		case signal.IsSignalingType(msg.Type):
			h.relay.Route(code, teacherID, msg)

		case msg.Type == types.MessageTypeHeartbeat:
			h.writeAck(conn)

		case msg.Type == types.MessageTypeTeacherCameraFrame:
			var frame types.FrameData
			if err := json.Unmarshal(msg.Data, &frame); err != nil || frame.Frame == "" {
				continue
			}
			h.manager.BroadcastToStudents(code, types.NewMessage(types.MessageTypeTeacherFrame, types.FrameData{
				Frame:     frame.Frame,
				Timestamp: time.Now(),
			}), "")

		case msg.Type == types.MessageTypeRequestUpdate:
			update := types.NewMessage(types.MessageTypeStateUpdate, types.StateUpdateData{
				Students: h.manager.StudentList(code),
			})
			if err := conn.WriteJSON(update); err != nil {
				log.Printf("Failed to send state_update for room %s: %v", code, err)
			}

		case msg.Type == types.MessageTypeChatMessage:
			h.broadcastChat(code, types.ChatData{
				UserID:    "teacher",
				UserName:  displayName,
				UserType:  "teacher",
				Message:   msg.Message,
				Timestamp: time.Now(),
			})

		default:
			log.Printf("Ignoring message type %q from teacher in room %s", msg.Type, code)
		}
	}
}

// HandleStudent serves GET /ws/student/{room}/{id}?name=. Malformed
// parameters are rejected before the upgrade; a missing or teacherless
// room is rejected after acceptance with an error event and the
// room-not-found close code.
func (h *Handler) HandleStudent(w http.ResponseWriter, r *http.Request) {
	code, studentID, ok := parseStudentPath(r.URL.Path)
	if !ok {
		http.Error(w, "Expected /ws/student/{room_code}/{student_id}", http.StatusBadRequest)
		return
	}
	if !types.IsValidRoomCode(code) {
		http.Error(w, types.ErrInvalidRoomCode.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidStudentID(studentID) {
		http.Error(w, types.ErrInvalidStudentID.Error(), http.StatusBadRequest)
		return
	}
	displayName := r.URL.Query().Get("name")
	if !types.IsValidDisplayName(displayName) {
		http.Error(w, types.ErrInvalidDisplayName.Error(), http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := NewConnection(ws, h.cfg.BufferSize, h.cfg.WriteTimeout, h.cfg.ReadTimeout)

	if err := h.manager.ConnectStudent(conn, code, studentID, displayName); err != nil {
		// The manager has already sent the error event and closed the
		// connection with the distinguishing close code.
		log.Printf("Student %q rejected from room %s: %v", displayName, code, err)
		return
	}

	defer func() {
		h.manager.DisconnectStudent(code, studentID)
		h.analyzer.Reset(studentID)
		_ = conn.Close()
	}()

	go h.pingLoop(conn)

	participants := types.NewMessage(types.MessageTypeParticipantList, types.ParticipantListData{
		Participants: h.manager.Participants(code),
	})
	if err := conn.WriteJSON(participants); err != nil {
		log.Printf("Failed to send participant_list to %s: %v", studentID, err)
	}

	for {
		msg, err := h.readMessage(conn)
		if err != nil {
			log.Printf("Student %s connection closed: %v", studentID, err)
			return
		}

		switch {
		case signal.IsSignalingType(msg.Type):
			h.relay.Route(code, studentID, msg)

		case msg.Type == types.MessageTypeAttentionUpdate:
			h.handleAttentionReport(code, studentID, displayName, msg.Data)

		case msg.Type == types.MessageTypeCameraFrame:
			var frame types.FrameData
			if err := json.Unmarshal(msg.Data, &frame); err != nil || frame.Frame == "" {
				continue
			}
			h.manager.BroadcastToTeachers(code, types.NewMessage(types.MessageTypeCameraFrame, types.FrameData{
				StudentID: studentID,
				Frame:     frame.Frame,
				Timestamp: time.Now(),
			}))

		case msg.Type == types.MessageTypeChatMessage:
			h.broadcastChat(code, types.ChatData{
				UserID:    studentID,
				UserName:  displayName,
				UserType:  "student",
				Message:   msg.Message,
				Timestamp: time.Now(),
			})

		case msg.Type == types.MessageTypeHeartbeat:
			h.writeAck(conn)

		default:
			log.Printf("Ignoring message type %q from student %s", msg.Type, studentID)
		}
	}
}

// attentionReport is the inbound attention_update payload.
type attentionReport struct {
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence"`
}

// handleAttentionReport updates the room table, runs the alert state
// machine and forwards whatever edge it emits to the room's teachers.
func (h *Handler) handleAttentionReport(code, studentID, displayName string, data json.RawMessage) {
	var report attentionReport
	if len(data) > 0 {
		if err := json.Unmarshal(data, &report); err != nil {
			log.Printf("Malformed attention report from %s: %v", studentID, err)
			return
		}
	}
	status := report.Status
	if status == "" {
		status = types.StatusAttentive
	}
	confidence := 1.0
	if report.Confidence != nil {
		confidence = *report.Confidence
	}

	h.manager.UpdateAttention(code, studentID, status, confidence)
	h.record(history.Event{
		RoomCode:    code,
		StudentID:   studentID,
		StudentName: displayName,
		Kind:        history.KindAttention,
		Status:      status,
		Confidence:  confidence,
	})

	event := h.analyzer.Observe(studentID, displayName, status)
	if event == nil {
		return
	}

	switch event.Kind {
	case attention.EventAlert:
		h.manager.IncrementAlertCount(code, studentID)
		h.manager.BroadcastToTeachers(code, types.NewMessage(types.MessageTypeAlert, types.AlertData{
			StudentID:   event.StudentID,
			StudentName: event.StudentName,
			AlertType:   event.AlertType,
			Message:     event.Message,
			Severity:    event.Severity,
			Timestamp:   event.Timestamp,
		}))
		h.record(history.Event{
			RoomCode:    code,
			StudentID:   studentID,
			StudentName: displayName,
			Kind:        history.KindAlert,
			Status:      status,
			Severity:    event.Severity,
			Confidence:  confidence,
		})

	case attention.EventClearAlert:
		h.manager.BroadcastToTeachers(code, types.NewMessage(types.MessageTypeClearAlert, types.ClearAlertData{
			StudentID: event.StudentID,
		}))
		h.record(history.Event{
			RoomCode:    code,
			StudentID:   studentID,
			StudentName: displayName,
			Kind:        history.KindClearAlert,
			Status:      status,
			Confidence:  confidence,
		})
	}
}

// broadcastChat fans a chat message out to both audiences of a room.
func (h *Handler) broadcastChat(code string, chat types.ChatData) {
	msg := types.NewMessage(types.MessageTypeChatMessage, chat)
	h.manager.BroadcastToTeachers(code, msg)
	h.manager.BroadcastToStudents(code, msg, "")
}

// pingLoop probes the connection until it dies.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// readMessage reads and decodes the next inbound envelope. A decode
// failure is treated like a transport fault: the connection is done.
func (h *Handler) readMessage(conn *Connection) (types.Message, error) {
	data, err := conn.ReadMessage()
	if err != nil {
		return types.Message{}, err
	}
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func (h *Handler) writeAck(conn *Connection) {
	if err := conn.WriteJSON(types.Message{Type: types.MessageTypeHeartbeatAck}); err != nil {
		log.Printf("Failed to send heartbeat_ack: %v", err)
	}
}

// record forwards an event to the history store when one is configured.
func (h *Handler) record(ev history.Event) {
	if h.history != nil {
		h.history.Record(ev)
	}
}

// parseStudentPath extracts the room code and student identity from
// /ws/student/{room}/{id}.
func parseStudentPath(path string) (code, studentID string, ok bool) {
	rest := strings.TrimPrefix(path, "/ws/student/")
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
