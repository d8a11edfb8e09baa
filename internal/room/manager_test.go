package room

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"liveclass/pkg/types"
)

// fakeConn records everything the manager sends so tests can assert on the
// event stream without real sockets.
type fakeConn struct {
	mu         sync.Mutex
	messages   []types.Message
	closed     bool
	closeCode  int
	failWrites bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("write failed")
	}
	msg, ok := v.(types.Message)
	if !ok {
		return errors.New("unexpected payload type")
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) received() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) messageTypes() []string {
	var out []string
	for _, msg := range c.received() {
		out = append(out, msg.Type)
	}
	return out
}

func (c *fakeConn) lastOfType(msgType string) (types.Message, bool) {
	msgs := c.received()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == msgType {
			return msgs[i], true
		}
	}
	return types.Message{}, false
}

func countType(msgTypes []string, want string) int {
	n := 0
	for _, msgType := range msgTypes {
		if msgType == want {
			n++
		}
	}
	return n
}

func TestConnectTeacherCreatesRoom(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}

	code, err := m.ConnectTeacher(teacher, "Ms. Frizzle")
	if err != nil {
		t.Fatalf("ConnectTeacher failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected 6-character code, got %q", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Errorf("Code %q contains %q outside the alphabet", code, r)
		}
	}
	if !m.RoomExists(code) {
		t.Error("RoomExists should be true immediately after teacher connect")
	}

	created, ok := teacher.lastOfType(types.MessageTypeRoomCreated)
	if !ok {
		t.Fatal("Teacher did not receive room_created")
	}
	if !strings.Contains(string(created.Data), code) {
		t.Errorf("room_created payload missing code %s: %s", code, created.Data)
	}
	if !strings.Contains(string(created.Data), `"students":[]`) {
		t.Errorf("room_created should carry an empty student list: %s", created.Data)
	}
}

func TestGeneratedCodesPairwiseDistinct(t *testing.T) {
	m := NewManager(nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := m.ConnectTeacher(&fakeConn{}, "Teacher")
		if err != nil {
			t.Fatalf("ConnectTeacher #%d failed: %v", i, err)
		}
		if seen[code] {
			t.Fatalf("Code %s issued twice while both rooms live", code)
		}
		seen[code] = true
	}
}

func TestRoomExistsLifecycle(t *testing.T) {
	m := NewManager(nil)
	if m.RoomExists("ABCDEF") {
		t.Error("RoomExists should be false before any teacher connects")
	}

	teacher := &fakeConn{}
	code, err := m.ConnectTeacher(teacher, "Teacher")
	if err != nil {
		t.Fatalf("ConnectTeacher failed: %v", err)
	}
	if !m.RoomExists(code) {
		t.Error("RoomExists should be true while the teacher is connected")
	}

	m.DisconnectTeacher(teacher)
	if m.RoomExists(code) {
		t.Error("RoomExists should be false after the last teacher disconnects")
	}

	// Idempotent: a second disconnect of the same connection is a no-op.
	m.DisconnectTeacher(teacher)
}

func TestConnectStudentRejectedWithoutRoom(t *testing.T) {
	m := NewManager(nil)
	student := &fakeConn{}

	err := m.ConnectStudent(student, "NOROOM", "alice", "Alice")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Expected ErrRoomNotFound, got %v", err)
	}
	if !student.closed {
		t.Error("Rejected student connection should be closed")
	}
	if student.closeCode != types.CloseCodeRoomNotFound {
		t.Errorf("Expected close code %d, got %d", types.CloseCodeRoomNotFound, student.closeCode)
	}
	if _, ok := student.lastOfType(types.MessageTypeError); !ok {
		t.Error("Rejected student should receive an error event")
	}
	if _, students := m.Stats(); students != 0 {
		t.Error("Rejected join must not change membership")
	}
}

func TestConnectStudentDuplicateIdentityRejected(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	if err := m.ConnectStudent(&fakeConn{}, code, "alice", "Alice"); err != nil {
		t.Fatalf("First join failed: %v", err)
	}

	dup := &fakeConn{}
	err := m.ConnectStudent(dup, code, "alice", "Alice again")
	if !errors.Is(err, ErrIdentityInUse) {
		t.Fatalf("Expected ErrIdentityInUse, got %v", err)
	}
	if dup.closeCode != types.CloseCodeDuplicateIdentity {
		t.Errorf("Expected close code %d, got %d", types.CloseCodeDuplicateIdentity, dup.closeCode)
	}
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	alice := &fakeConn{}
	if err := m.ConnectStudent(alice, code, "alice", "Alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	join, ok := teacher.lastOfType(types.MessageTypeStudentJoin)
	if !ok {
		t.Fatal("Teacher did not receive student_join")
	}
	if !strings.Contains(string(join.Data), `"student_id":"alice"`) {
		t.Errorf("student_join payload missing student: %s", join.Data)
	}
	if !strings.Contains(string(join.Data), `"students":[`) {
		t.Errorf("Teacher copy of student_join must carry the full list: %s", join.Data)
	}

	if got := len(m.StudentList(code)); got != 1 {
		t.Fatalf("Expected 1 student after join, got %d", got)
	}

	m.DisconnectStudent(code, "alice")
	leave, ok := teacher.lastOfType(types.MessageTypeStudentLeave)
	if !ok {
		t.Fatal("Teacher did not receive student_leave")
	}
	if strings.Contains(string(leave.Data), `"students":[{`) {
		t.Errorf("Student list should be empty after leave: %s", leave.Data)
	}
	if got := len(m.StudentList(code)); got != 0 {
		t.Fatalf("Expected 0 students after leave, got %d", got)
	}

	// Second disconnect of the same identity must be a silent no-op.
	before := len(teacher.received())
	m.DisconnectStudent(code, "alice")
	if after := len(teacher.received()); after != before {
		t.Errorf("Idempotent disconnect emitted %d extra event(s)", after-before)
	}
}

func TestStudentJoinExcludesJoinerFromPeerBroadcast(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	alice := &fakeConn{}
	bob := &fakeConn{}
	if err := m.ConnectStudent(alice, code, "alice", "Alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := m.ConnectStudent(bob, code, "bob", "Bob"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if countType(bob.messageTypes(), types.MessageTypeStudentJoin) != 0 {
		t.Error("Joiner must not receive its own student_join")
	}
	if countType(alice.messageTypes(), types.MessageTypeStudentJoin) != 1 {
		t.Error("Existing student should receive exactly one student_join")
	}
}

func TestTeacherDisconnectTearsDownRoom(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	alice := &fakeConn{}
	if err := m.ConnectStudent(alice, code, "alice", "Alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	m.DisconnectTeacher(teacher)

	if _, ok := alice.lastOfType(types.MessageTypeRoomClosed); !ok {
		t.Error("Student should receive room_closed on teardown")
	}
	if !alice.closed {
		t.Error("Student connection should be closed on teardown")
	}
	if alice.closeCode != types.CloseCodeRoomClosed {
		t.Errorf("Expected close code %d, got %d", types.CloseCodeRoomClosed, alice.closeCode)
	}
	if m.RoomExists(code) {
		t.Error("Room should not exist after teardown")
	}
	rooms, students := m.Stats()
	if rooms != 0 || students != 0 {
		t.Errorf("Expected empty table after teardown, got rooms=%d students=%d", rooms, students)
	}
	if err := m.SendToIdentity("alice", types.Message{Type: "x"}); !errors.Is(err, ErrIdentityNotFound) {
		t.Error("Identity index should be purged on teardown")
	}
}

func TestBroadcastFailurePrunesRecipient(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	dead := &fakeConn{failWrites: true}
	healthy := &fakeConn{}
	if err := m.ConnectStudent(healthy, code, "bob", "Bob"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	// Register the doomed connection directly; its join broadcast to the
	// teacher succeeds because only its own writes fail.
	if err := m.ConnectStudent(dead, code, "alice", "Alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	m.BroadcastToStudents(code, types.NewMessage(types.MessageTypeChatMessage, types.ChatData{Message: "hi"}), "")

	list := m.StudentList(code)
	if len(list) != 1 || list[0].ID != "bob" {
		t.Fatalf("Failed recipient should be pruned, got %+v", list)
	}
	if _, ok := healthy.lastOfType(types.MessageTypeChatMessage); !ok {
		t.Error("One bad connection must not abort delivery to the rest")
	}
	if _, ok := teacher.lastOfType(types.MessageTypeStudentLeave); !ok {
		t.Error("Pruned recipient should go through the student_leave path")
	}
}

func TestUpdateAttention(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")
	if err := m.ConnectStudent(&fakeConn{}, code, "alice", "Alice"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	m.UpdateAttention(code, "alice", types.StatusDrowsy, 0.9)

	update, ok := teacher.lastOfType(types.MessageTypeAttentionUpdate)
	if !ok {
		t.Fatal("Teacher did not receive attention_update")
	}
	payload := string(update.Data)
	for _, want := range []string{`"student_id":"alice"`, `"student_name":"Alice"`, `"status":"drowsy"`, `"confidence":0.9`} {
		if !strings.Contains(payload, want) {
			t.Errorf("attention_update missing %s: %s", want, payload)
		}
	}
	if list := m.StudentList(code); list[0].Status != types.StatusDrowsy {
		t.Errorf("Student info status not updated: %+v", list[0])
	}
}

func TestUpdateAttentionStaleIsNoOp(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")

	before := len(teacher.received())
	m.UpdateAttention(code, "ghost", types.StatusDrowsy, 1.0)
	if after := len(teacher.received()); after != before {
		t.Error("Attention report for an absent student must not emit events")
	}
}

func TestRoomPeersExcludesSender(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")
	alice := &fakeConn{}
	bob := &fakeConn{}
	_ = m.ConnectStudent(alice, code, "alice", "Alice")
	_ = m.ConnectStudent(bob, code, "bob", "Bob")

	peers := m.RoomPeers(code, "alice")
	if len(peers) != 2 {
		t.Fatalf("Expected teacher and bob, got %d peers", len(peers))
	}
	peers = m.RoomPeers(code, TeacherIdentity(code))
	if len(peers) != 2 {
		t.Fatalf("Expected alice and bob, got %d peers", len(peers))
	}
}

func TestParticipantsIncludeSynthesizedTeacher(t *testing.T) {
	m := NewManager(nil)
	teacher := &fakeConn{}
	code, _ := m.ConnectTeacher(teacher, "Teacher")
	_ = m.ConnectStudent(&fakeConn{}, code, "alice", "Alice")

	participants := m.Participants(code)
	if len(participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(participants))
	}
	last := participants[len(participants)-1]
	if last.ID != TeacherIdentity(code) || last.Type != "teacher" {
		t.Errorf("Expected synthesized teacher entry, got %+v", last)
	}
}
