// Package attention implements the per-student edge-triggered alert state
// machine. It owns attention state exclusively; room membership lives in
// the room manager and the two are correlated only by student identity.
package attention

import (
	"fmt"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// EventKind distinguishes the two event types the analyzer can emit.
type EventKind int

const (
	EventAlert EventKind = iota
	EventClearAlert
)

// Event is an edge-triggered notification for the teacher broadcast path.
// The caller forwards it; the analyzer never touches connections.
type Event struct {
	Kind        EventKind
	StudentID   string
	StudentName string
	AlertType   string
	Message     string
	Severity    string
	Timestamp   time.Time
}

// state tracks one student between reports.
type state struct {
	currentStatus string
	alertActive   bool
	lastUpdate    time.Time
}

// Analyzer holds per-student attention state keyed by identity. State is
// created on first report and lives until Reset, which every student
// disconnect path must call so a reconnect under the same identity starts
// clean.
type Analyzer struct {
	mu     sync.Mutex
	states map[string]*state
}

// NewAnalyzer creates an analyzer with no tracked students.
func NewAnalyzer() *Analyzer {
	return &Analyzer{states: make(map[string]*state)}
}

// Observe applies one status report and returns the event it triggers, or
// nil. The machine is strictly edge-triggered: a deviation raises an alert
// only if none is active, attentive clears only if one is, and everything
// else is silent. Unrecognized status values count as deviations.
func (a *Analyzer) Observe(studentID, studentName, status string) *Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[studentID]
	if !ok {
		st = &state{currentStatus: types.StatusAttentive}
		a.states[studentID] = st
	}
	st.currentStatus = status
	st.lastUpdate = time.Now()

	if types.IsDeviation(status) && !st.alertActive {
		st.alertActive = true
		message, severity := describeDeviation(studentName, status)
		return &Event{
			Kind:        EventAlert,
			StudentID:   studentID,
			StudentName: studentName,
			AlertType:   status,
			Message:     message,
			Severity:    severity,
			Timestamp:   st.lastUpdate,
		}
	}

	if !types.IsDeviation(status) && st.alertActive {
		st.alertActive = false
		return &Event{
			Kind:      EventClearAlert,
			StudentID: studentID,
			Timestamp: st.lastUpdate,
		}
	}

	return nil
}

// Reset unconditionally forgets a student's state.
func (a *Analyzer) Reset(studentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, studentID)
}

// AlertActive reports whether an unresolved alert is outstanding for the
// student.
func (a *Analyzer) AlertActive(studentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[studentID]
	return ok && st.alertActive
}

// Tracked returns the number of students with live state.
func (a *Analyzer) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states)
}

// describeDeviation maps a deviation status to its teacher-facing message
// and severity. Unknown statuses get the generic medium-severity wording.
func describeDeviation(studentName, status string) (message, severity string) {
	switch status {
	case types.StatusLookingAway:
		return fmt.Sprintf("%s is looking away", studentName), types.SeverityMedium
	case types.StatusDrowsy:
		return fmt.Sprintf("%s appears drowsy", studentName), types.SeverityHigh
	case types.StatusNoFace:
		return fmt.Sprintf("%s - no face detected", studentName), types.SeverityMedium
	default:
		return fmt.Sprintf("%s needs attention", studentName), types.SeverityMedium
	}
}
