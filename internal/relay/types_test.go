package relay

import "testing"

func TestMessage_SelfAuthored(t *testing.T) {
	tests := []struct {
		author string
		want   bool
	}{
		{"", true},
		{"AI Bot", true},
		{"alice", false},
	}
	for _, tt := range tests {
		msg := Message{Author: tt.author}
		if got := msg.SelfAuthored("AI Bot"); got != tt.want {
			t.Errorf("SelfAuthored(%q) = %v, want %v", tt.author, got, tt.want)
		}
	}
}

func TestTaskStatus_ValidTarget(t *testing.T) {
	for _, s := range []TaskStatus{TaskRunning, TaskHandled, TaskFailed} {
		if !s.ValidTarget() {
			t.Errorf("%s should be a valid target", s)
		}
	}
	if TaskPending.ValidTarget() {
		t.Error("pending should not be a valid target")
	}
	if TaskStatus("done").ValidTarget() {
		t.Error("unknown status should not be a valid target")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if !TaskHandled.Terminal() || !TaskFailed.Terminal() {
		t.Error("handled and failed are terminal")
	}
	if TaskPending.Terminal() || TaskRunning.Terminal() {
		t.Error("pending and running are not terminal")
	}
}
