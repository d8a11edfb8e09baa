package room

import (
	"log"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// Conn is the connection handle the manager fans messages out to. The
// transport layer provides the real implementation; tests use fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
	CloseWithCode(code int, reason string) error
}

// roomState holds one room's membership. students and info always have
// identical key sets; both are mutated only under the manager lock.
type roomState struct {
	code     string
	teachers map[Conn]string
	students map[string]Conn
	info     map[string]*types.StudentInfo
}

// Manager owns the process-wide room table and the flat identity index
// used for point-to-point signaling. A single mutex covers the whole
// table: room creation, code uniqueness checks and membership changes are
// one critical section, so no task ever observes a half-created room.
// Sends happen outside the lock against membership snapshots.
type Manager struct {
	mu           sync.Mutex
	codes        *CodeGenerator
	rooms        map[string]*roomState
	reserved     map[string]struct{} // codes held until teardown notifications finish
	identities   map[string]Conn
	teacherRooms map[Conn]string
}

// NewManager creates an empty room table. A nil generator gets the
// default 6-character, 100-attempt configuration.
func NewManager(codes *CodeGenerator) *Manager {
	if codes == nil {
		codes = NewCodeGenerator(0, 0)
	}
	return &Manager{
		codes:        codes,
		rooms:        make(map[string]*roomState),
		reserved:     make(map[string]struct{}),
		identities:   make(map[string]Conn),
		teacherRooms: make(map[Conn]string),
	}
}

// TeacherIdentity synthesizes the signaling identity of a room's teacher.
func TeacherIdentity(code string) string {
	return "teacher_" + code
}

// recipient identifies one fan-out target well enough to run its
// disconnect path if the send fails.
type recipient struct {
	conn      Conn
	studentID string // empty for teachers
	roomCode  string
	teacher   bool
}

// ConnectTeacher registers a connection as a teacher, always creating a
// brand-new room with a freshly generated code. The room_created event is
// sent to the connection before returning.
func (m *Manager) ConnectTeacher(conn Conn, displayName string) (string, error) {
	m.mu.Lock()
	code, err := m.codes.Generate(func(candidate string) bool {
		if _, live := m.rooms[candidate]; live {
			return true
		}
		_, held := m.reserved[candidate]
		return held
	})
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	m.rooms[code] = &roomState{
		code:     code,
		teachers: map[Conn]string{conn: displayName},
		students: make(map[string]Conn),
		info:     make(map[string]*types.StudentInfo),
	}
	m.teacherRooms[conn] = code
	m.identities[TeacherIdentity(code)] = conn
	m.mu.Unlock()

	log.Printf("Created room %s for teacher %q", code, displayName)

	created := types.NewMessage(types.MessageTypeRoomCreated, types.RoomCreatedData{
		RoomID:    code,
		Students:  []types.StudentInfo{},
		Timestamp: time.Now(),
	})
	if err := conn.WriteJSON(created); err != nil {
		log.Printf("Failed to send room_created for %s: %v", code, err)
	}
	return code, nil
}

// ConnectStudent registers a student connection into an existing room.
// Joining a room with no active teacher is rejected before registration:
// the connection receives an error event and is closed with the
// room-not-found code. A student identity already connected anywhere is
// rejected the same way so that one identity never reports over two
// connections at once.
func (m *Manager) ConnectStudent(conn Conn, code, studentID, displayName string) error {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok || len(room.teachers) == 0 {
		m.mu.Unlock()
		m.reject(conn, "Room "+code+" does not exist. Please check the room code.",
			types.CloseCodeRoomNotFound, "Room not found")
		return ErrRoomNotFound
	}
	if _, taken := m.identities[studentID]; taken {
		m.mu.Unlock()
		m.reject(conn, "Identity "+studentID+" is already connected.",
			types.CloseCodeDuplicateIdentity, "Identity in use")
		return ErrIdentityInUse
	}

	room.students[studentID] = conn
	room.info[studentID] = &types.StudentInfo{
		ID:         studentID,
		Name:       displayName,
		Status:     types.StatusAttentive,
		LastUpdate: time.Now(),
		AlertCount: 0,
	}
	m.identities[studentID] = conn

	peers := m.studentRecipientsLocked(room, studentID)
	teachers := m.teacherRecipientsLocked(room)
	fullList := m.studentListLocked(room)
	m.mu.Unlock()

	log.Printf("Student %q (%s) joined room %s", displayName, studentID, code)

	now := time.Now()
	m.fanOut(peers, types.NewMessage(types.MessageTypeStudentJoin, types.MembershipData{
		StudentID:   studentID,
		StudentName: displayName,
		Timestamp:   now,
	}))
	m.fanOut(teachers, types.NewMessage(types.MessageTypeStudentJoin, types.MembershipData{
		StudentID:   studentID,
		StudentName: displayName,
		Students:    fullList,
		Timestamp:   now,
	}))
	return nil
}

func (m *Manager) reject(conn Conn, text string, closeCode int, reason string) {
	if err := conn.WriteJSON(types.NewErrorMessage(text)); err != nil {
		log.Printf("Failed to send rejection: %v", err)
	}
	if err := conn.CloseWithCode(closeCode, reason); err != nil {
		log.Printf("Failed to close rejected connection: %v", err)
	}
}

// DisconnectStudent removes a student from its room and notifies the
// remaining members. Calling it for an identity that is already gone is a
// no-op: transport-level close races with manager-level cleanup, so every
// disconnect path must be idempotent.
func (m *Manager) DisconnectStudent(code, studentID string) {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return
	}
	conn, present := room.students[studentID]
	if !present {
		m.mu.Unlock()
		return
	}
	displayName := room.info[studentID].Name
	delete(room.students, studentID)
	delete(room.info, studentID)
	if m.identities[studentID] == conn {
		delete(m.identities, studentID)
	}

	peers := m.studentRecipientsLocked(room, "")
	teachers := m.teacherRecipientsLocked(room)
	fullList := m.studentListLocked(room)
	m.mu.Unlock()

	log.Printf("Student %q (%s) left room %s", displayName, studentID, code)

	now := time.Now()
	m.fanOut(peers, types.NewMessage(types.MessageTypeStudentLeave, types.MembershipData{
		StudentID:   studentID,
		StudentName: displayName,
		Timestamp:   now,
	}))
	m.fanOut(teachers, types.NewMessage(types.MessageTypeStudentLeave, types.MembershipData{
		StudentID:   studentID,
		StudentName: displayName,
		Students:    fullList,
		Timestamp:   now,
	}))
}

// DisconnectTeacher removes a teacher connection from its room. While
// other teachers remain the room is untouched. When the last teacher
// leaves, the room is torn down synchronously: every student is notified
// and closed, and only then is the code released for reuse. Safe to call
// twice with the same connection.
func (m *Manager) DisconnectTeacher(conn Conn) {
	m.mu.Lock()
	code, ok := m.teacherRooms[conn]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.teacherRooms, conn)

	room, live := m.rooms[code]
	if !live {
		m.mu.Unlock()
		return
	}
	delete(room.teachers, conn)
	if m.identities[TeacherIdentity(code)] == conn {
		delete(m.identities, TeacherIdentity(code))
	}
	if len(room.teachers) > 0 {
		m.mu.Unlock()
		return
	}

	// Last teacher gone: pull the room out of the table but keep the code
	// reserved until the students have been told, so a concurrent
	// ConnectTeacher cannot reuse it mid-teardown.
	students := make([]Conn, 0, len(room.students))
	for studentID, studentConn := range room.students {
		students = append(students, studentConn)
		if m.identities[studentID] == studentConn {
			delete(m.identities, studentID)
		}
	}
	delete(m.rooms, code)
	m.reserved[code] = struct{}{}
	m.mu.Unlock()

	log.Printf("Closing room %s: last teacher disconnected, notifying %d student(s)", code, len(students))

	closed := types.Message{Type: types.MessageTypeRoomClosed, Message: "Teacher has ended the class"}
	for _, studentConn := range students {
		if err := studentConn.WriteJSON(closed); err != nil {
			log.Printf("Failed to notify student of room %s closing: %v", code, err)
		}
		if err := studentConn.CloseWithCode(types.CloseCodeRoomClosed, "Room closed"); err != nil {
			log.Printf("Failed to close student connection in room %s: %v", code, err)
		}
	}

	m.mu.Lock()
	delete(m.reserved, code)
	m.mu.Unlock()
	log.Printf("Room %s cleaned up, code released", code)
}

// BroadcastToTeachers fans a message out to every teacher in the room.
func (m *Manager) BroadcastToTeachers(code string, msg types.Message) {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return
	}
	teachers := m.teacherRecipientsLocked(room)
	m.mu.Unlock()
	m.fanOut(teachers, msg)
}

// BroadcastToStudents fans a message out to every student in the room,
// optionally excluding one identity (typically the sender).
func (m *Manager) BroadcastToStudents(code string, msg types.Message, excludeID string) {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return
	}
	students := m.studentRecipientsLocked(room, excludeID)
	m.mu.Unlock()
	m.fanOut(students, msg)
}

// fanOut delivers a message to each recipient, collecting per-recipient
// failures instead of aborting. Failed recipients are treated as
// disconnected and run through their matching disconnect path once the
// delivery loop has finished.
func (m *Manager) fanOut(recipients []recipient, msg types.Message) {
	var failed []recipient
	for _, r := range recipients {
		if err := r.conn.WriteJSON(msg); err != nil {
			log.Printf("Delivery of %s to room %s failed: %v", msg.Type, r.roomCode, err)
			failed = append(failed, r)
		}
	}
	for _, r := range failed {
		if r.teacher {
			m.DisconnectTeacher(r.conn)
		} else {
			m.DisconnectStudent(r.roomCode, r.studentID)
		}
	}
}

// UpdateAttention records a student's latest attention report and fans an
// attention_update event out to the room's teachers. Reports for students
// no longer present are dropped silently so stale state is never
// resurrected.
func (m *Manager) UpdateAttention(code, studentID, status string, confidence float64) {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return
	}
	info, present := room.info[studentID]
	if !present {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	info.Status = status
	info.LastUpdate = now
	displayName := info.Name
	teachers := m.teacherRecipientsLocked(room)
	m.mu.Unlock()

	m.fanOut(teachers, types.NewMessage(types.MessageTypeAttentionUpdate, types.AttentionUpdateData{
		StudentID:   studentID,
		StudentName: displayName,
		Status:      status,
		Confidence:  confidence,
		Timestamp:   now,
	}))
}

// IncrementAlertCount bumps a student's alert counter. No-op if the
// student has already left.
func (m *Manager) IncrementAlertCount(code, studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[code]; ok {
		if info, present := room.info[studentID]; present {
			info.AlertCount++
		}
	}
}

// RoomExists reports whether a code names a room with at least one active
// teacher. This is the single source of truth for join attempts.
func (m *Manager) RoomExists(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	return ok && len(room.teachers) > 0
}

// SendToIdentity delivers a message to exactly one connection via the
// identity index. Used by the signaling relay for targeted forwarding.
func (m *Manager) SendToIdentity(identity string, msg types.Message) error {
	m.mu.Lock()
	conn, ok := m.identities[identity]
	m.mu.Unlock()
	if !ok {
		return ErrIdentityNotFound
	}
	return conn.WriteJSON(msg)
}

// RoomPeers returns every connection in the room except the one owning
// excludeIdentity. Used by the relay for untargeted signaling kinds.
func (m *Manager) RoomPeers(code, excludeIdentity string) []Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return nil
	}
	peers := make([]Conn, 0, len(room.students)+len(room.teachers))
	for studentID, conn := range room.students {
		if studentID == excludeIdentity {
			continue
		}
		peers = append(peers, conn)
	}
	if TeacherIdentity(code) != excludeIdentity {
		for conn := range room.teachers {
			peers = append(peers, conn)
		}
	}
	return peers
}

// StudentList returns a snapshot of the room's student records sorted by
// identity for stable ordering.
func (m *Manager) StudentList(code string) []types.StudentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return []types.StudentInfo{}
	}
	return m.studentListLocked(room)
}

// Participants returns the join-time participant view of a room: every
// student plus a synthesized entry for the teacher.
func (m *Manager) Participants(code string) []types.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return nil
	}
	participants := make([]types.Participant, 0, len(room.students)+1)
	for _, info := range room.info {
		participants = append(participants, types.Participant{
			ID:   info.ID,
			Name: info.Name,
			Type: "student",
		})
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].ID < participants[j].ID })
	for _, displayName := range room.teachers {
		participants = append(participants, types.Participant{
			ID:   TeacherIdentity(code),
			Name: displayName,
			Type: "teacher",
		})
		break
	}
	return participants
}

// Stats returns room and student totals for the health endpoint.
func (m *Manager) Stats() (rooms, students int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms = len(m.rooms)
	for _, room := range m.rooms {
		students += len(room.students)
	}
	return rooms, students
}

// Snapshot helpers. Callers must hold m.mu.

func (m *Manager) teacherRecipientsLocked(room *roomState) []recipient {
	out := make([]recipient, 0, len(room.teachers))
	for conn := range room.teachers {
		out = append(out, recipient{conn: conn, roomCode: room.code, teacher: true})
	}
	return out
}

func (m *Manager) studentRecipientsLocked(room *roomState, excludeID string) []recipient {
	out := make([]recipient, 0, len(room.students))
	for studentID, conn := range room.students {
		if excludeID != "" && studentID == excludeID {
			continue
		}
		out = append(out, recipient{conn: conn, studentID: studentID, roomCode: room.code})
	}
	return out
}

func (m *Manager) studentListLocked(room *roomState) []types.StudentInfo {
	list := make([]types.StudentInfo, 0, len(room.info))
	for _, info := range room.info {
		list = append(list, *info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
