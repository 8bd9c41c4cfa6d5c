package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/immanencer/ratimint/internal/config"
	"github.com/immanencer/ratimint/internal/relay"
)

const (
	// Outbound poll interval, and the slower interval armed after a
	// delivery failure. A failed task stays failed; only the poll slows.
	deliverInterval = 10 * time.Second
	backoffInterval = 30 * time.Second
)

type Manager struct {
	channels map[string]Channel
	store    Store
	wg       sync.WaitGroup
}

func NewManager(cfg config.ChannelsConfig, store Store, uploader Uploader) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		store:    store,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, store, uploader)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

// StartAll starts every channel's inbound path and one outbound poll loop
// per channel. The poll loop claims tasks of the channel's own type only.
func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] starting %s", name)
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		m.wg.Add(1)
		go func(ch Channel) {
			defer m.wg.Done()
			m.pollOutbound(ctx, ch)
		}(ch)
	}
	return nil
}

// pollOutbound is the claim-and-deliver loop. The timer re-arms only after a
// cycle finishes, so cycles never overlap.
func (m *Manager) pollOutbound(ctx context.Context, ch Channel) {
	interval := m.deliverNext(ctx, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = m.deliverNext(ctx, ch)
	}
}

// deliverNext runs one outbound cycle and returns the interval before the
// next one.
func (m *Manager) deliverNext(ctx context.Context, ch Channel) time.Duration {
	task, err := m.store.ClaimNextTask(ctx, ch.Name())
	if err != nil {
		// Store unavailability: abort this cycle, the next tick retries.
		log.Printf("[channel-mgr] claim for %s failed: %v", ch.Name(), err)
		return deliverInterval
	}
	if task == nil {
		return deliverInterval
	}

	if err := ch.Deliver(*task); err != nil {
		log.Printf("[channel-mgr] deliver task %s via %s failed: %v", task.ID, ch.Name(), err)
		if err := m.store.SetTaskStatus(ctx, task.ID, relay.TaskFailed); err != nil {
			log.Printf("[channel-mgr] mark task %s failed: %v", task.ID, err)
		}
		return backoffInterval
	}

	if err := m.store.SetTaskStatus(ctx, task.ID, relay.TaskHandled); err != nil {
		log.Printf("[channel-mgr] mark task %s handled: %v", task.ID, err)
	}
	return deliverInterval
}

func (m *Manager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
