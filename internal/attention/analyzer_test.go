package attention

import (
	"testing"

	"liveclass/pkg/types"
)

func observeAll(a *Analyzer, id, name string, statuses []string) []*Event {
	var events []*Event
	for _, status := range statuses {
		if ev := a.Observe(id, name, status); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

func TestAlertThenClearIsEdgeTriggered(t *testing.T) {
	a := NewAnalyzer()
	events := observeAll(a, "alice", "Alice", []string{
		types.StatusAttentive,
		types.StatusLookingAway,
		types.StatusLookingAway,
		types.StatusAttentive,
	})

	if len(events) != 2 {
		t.Fatalf("Expected exactly 2 events, got %d", len(events))
	}
	if events[0].Kind != EventAlert {
		t.Errorf("First event should be an alert, got %v", events[0].Kind)
	}
	if events[1].Kind != EventClearAlert {
		t.Errorf("Second event should be a clear, got %v", events[1].Kind)
	}
}

func TestRepeatedDeviationAlertsOnce(t *testing.T) {
	a := NewAnalyzer()
	events := observeAll(a, "alice", "Alice", []string{
		types.StatusLookingAway,
		types.StatusLookingAway,
		types.StatusLookingAway,
	})

	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 alert, got %d events", len(events))
	}
	if events[0].Kind != EventAlert || events[0].AlertType != types.StatusLookingAway {
		t.Errorf("Unexpected event: %+v", events[0])
	}
}

func TestRepeatedAttentiveIsSilent(t *testing.T) {
	a := NewAnalyzer()
	events := observeAll(a, "alice", "Alice", []string{
		types.StatusAttentive,
		types.StatusAttentive,
		types.StatusAttentive,
	})
	if len(events) != 0 {
		t.Fatalf("Expected no events, got %d", len(events))
	}
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		status   string
		severity string
	}{
		{types.StatusLookingAway, types.SeverityMedium},
		{types.StatusDrowsy, types.SeverityHigh},
		{types.StatusNoFace, types.SeverityMedium},
		{"confused", types.SeverityMedium}, // unrecognized value
	}

	for _, tt := range tests {
		a := NewAnalyzer()
		ev := a.Observe("alice", "Alice", tt.status)
		if ev == nil {
			t.Fatalf("Status %q should trigger an alert", tt.status)
		}
		if ev.Severity != tt.severity {
			t.Errorf("Status %q: expected severity %q, got %q", tt.status, tt.severity, ev.Severity)
		}
		if ev.AlertType != tt.status {
			t.Errorf("Status %q: alert_type should echo the status, got %q", tt.status, ev.AlertType)
		}
	}
}

func TestUnrecognizedStatusNeverCoercedToAttentive(t *testing.T) {
	a := NewAnalyzer()
	if ev := a.Observe("alice", "Alice", "zoned_out"); ev == nil || ev.Kind != EventAlert {
		t.Fatal("Unrecognized status must count as a deviation")
	}
	if !a.AlertActive("alice") {
		t.Error("Alert should stay active after an unrecognized deviation")
	}
}

func TestSwitchingDeviationsDoesNotReAlert(t *testing.T) {
	a := NewAnalyzer()
	events := observeAll(a, "alice", "Alice", []string{
		types.StatusLookingAway,
		types.StatusDrowsy,
		types.StatusNoFace,
	})
	if len(events) != 1 {
		t.Fatalf("Deviation-to-deviation transitions must not re-alert, got %d events", len(events))
	}
}

func TestResetClearsState(t *testing.T) {
	a := NewAnalyzer()
	a.Observe("alice", "Alice", types.StatusDrowsy)
	if !a.AlertActive("alice") {
		t.Fatal("Alert should be active")
	}

	a.Reset("alice")
	if a.AlertActive("alice") {
		t.Error("Reset must clear the alert flag")
	}
	if a.Tracked() != 0 {
		t.Error("Reset must drop the student's state entirely")
	}

	// First report after a reset starts from a clean machine: a deviation
	// alerts again even though one was active before the reset.
	if ev := a.Observe("alice", "Alice", types.StatusDrowsy); ev == nil || ev.Kind != EventAlert {
		t.Error("Reconnect under the same identity should alert fresh")
	}

	// Resetting an unknown identity is a no-op.
	a.Reset("ghost")
}

func TestStudentsAreIndependent(t *testing.T) {
	a := NewAnalyzer()
	a.Observe("alice", "Alice", types.StatusDrowsy)
	if ev := a.Observe("bob", "Bob", types.StatusAttentive); ev != nil {
		t.Error("Bob's attentive report must not be affected by Alice's alert")
	}
	if a.AlertActive("bob") {
		t.Error("Bob should have no active alert")
	}
}
