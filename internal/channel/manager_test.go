package channel

import (
	"context"
	"fmt"
	"testing"

	"github.com/immanencer/ratimint/internal/config"
	"github.com/immanencer/ratimint/internal/relay"
)

// mockChannel implements Channel interface for testing
type mockChannel struct {
	name       string
	started    bool
	stopped    bool
	startErr   error
	stopErr    error
	deliverErr error
	delivered  []relay.Task
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Deliver(task relay.Task) error {
	m.delivered = append(m.delivered, task)
	return m.deliverErr
}

func TestManager_Empty(t *testing.T) {
	m, err := NewManager(config.ChannelsConfig{}, newFakeStore(), nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
}

func TestManager_TelegramWithoutToken(t *testing.T) {
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}
	if _, err := NewManager(cfg, newFakeStore(), nil); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestManager_StartStopAll_Empty(t *testing.T) {
	m, _ := NewManager(config.ChannelsConfig{}, newFakeStore(), nil)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestManager_StartAll_Error(t *testing.T) {
	mock := &mockChannel{name: "mock", startErr: fmt.Errorf("start failed")}
	m := &Manager{
		channels: map[string]Channel{"mock": mock},
		store:    newFakeStore(),
	}

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestManager_StopAll_Error(t *testing.T) {
	mock := &mockChannel{name: "mock", stopErr: fmt.Errorf("stop failed")}
	m := &Manager{
		channels: map[string]Channel{"mock": mock},
		store:    newFakeStore(),
	}

	// Stop errors are logged, not returned
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestManager_DeliverNext_EmptyQueue(t *testing.T) {
	fs := newFakeStore()
	mock := &mockChannel{name: "mock"}
	m := &Manager{channels: map[string]Channel{"mock": mock}, store: fs}

	interval := m.deliverNext(context.Background(), mock)
	if interval != deliverInterval {
		t.Errorf("interval = %v, want %v", interval, deliverInterval)
	}
	if len(mock.delivered) != 0 {
		t.Error("nothing should be delivered from an empty queue")
	}
}

func TestManager_DeliverNext_Success(t *testing.T) {
	fs := newFakeStore()
	task := &relay.Task{ID: "task-1", Type: "mock", ChannelID: "42", ResponseText: "hi", Status: relay.TaskRunning}
	fs.claimable = []*relay.Task{task}

	mock := &mockChannel{name: "mock"}
	m := &Manager{channels: map[string]Channel{"mock": mock}, store: fs}

	interval := m.deliverNext(context.Background(), mock)
	if interval != deliverInterval {
		t.Errorf("interval = %v, want %v", interval, deliverInterval)
	}
	if len(mock.delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(mock.delivered))
	}
	if fs.statuses["task-1"] != relay.TaskHandled {
		t.Errorf("status = %q, want handled", fs.statuses["task-1"])
	}
}

func TestManager_DeliverNext_Failure(t *testing.T) {
	fs := newFakeStore()
	task := &relay.Task{ID: "task-1", Type: "mock", ChannelID: "42", ResponseText: "hi", Status: relay.TaskRunning}
	fs.claimable = []*relay.Task{task}

	mock := &mockChannel{name: "mock", deliverErr: fmt.Errorf("network down")}
	m := &Manager{channels: map[string]Channel{"mock": mock}, store: fs}

	interval := m.deliverNext(context.Background(), mock)
	if interval != backoffInterval {
		t.Errorf("interval = %v, want slower %v after failure", interval, backoffInterval)
	}
	if fs.statuses["task-1"] != relay.TaskFailed {
		t.Errorf("status = %q, want failed", fs.statuses["task-1"])
	}

	// The failed task is never claimed again.
	interval = m.deliverNext(context.Background(), mock)
	if interval != deliverInterval {
		t.Errorf("interval = %v, want %v on empty queue", interval, deliverInterval)
	}
	if len(mock.delivered) != 1 {
		t.Errorf("failed task must not be redelivered, got %d deliveries", len(mock.delivered))
	}
}

func TestManager_DeliverNext_ClaimError(t *testing.T) {
	fs := newFakeStore()
	fs.claimErr = fmt.Errorf("store unavailable")

	mock := &mockChannel{name: "mock"}
	m := &Manager{channels: map[string]Channel{"mock": mock}, store: fs}

	interval := m.deliverNext(context.Background(), mock)
	if interval != deliverInterval {
		t.Errorf("interval = %v, want %v", interval, deliverInterval)
	}
	if len(mock.delivered) != 0 {
		t.Error("nothing should be delivered when claim fails")
	}
}
