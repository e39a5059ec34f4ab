package commands

import (
	"context"
	"sync"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
)

type slot struct {
	cmd       models.PendingCommand
	expiresAt time.Time
}

// MemoryMailbox keeps command slots in process memory. It is the default when
// no Redis URL is configured and only suits a single collector instance.
type MemoryMailbox struct {
	mu    sync.Mutex
	slots map[int64]slot
	opts  options
}

// NewMemoryMailbox creates an empty in-memory mailbox.
func NewMemoryMailbox(opts ...Option) *MemoryMailbox {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryMailbox{slots: make(map[int64]slot), opts: o}
}

// Enqueue stores cmd for siteID, replacing any pending command.
func (m *MemoryMailbox) Enqueue(_ context.Context, siteID int64, cmd models.PendingCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[siteID] = slot{cmd: cmd, expiresAt: m.opts.now().Add(m.opts.ttl)}
	return nil
}

// PollAndClear removes and returns the pending command for siteID.
func (m *MemoryMailbox) PollAndClear(_ context.Context, siteID int64) (*models.DeliveredCommand, error) {
	m.mu.Lock()
	s, ok := m.slots[siteID]
	delete(m.slots, siteID)
	m.mu.Unlock()

	if !ok || !m.opts.now().Before(s.expiresAt) {
		return nil, nil
	}
	return &models.DeliveredCommand{ID: m.opts.newID(), PendingCommand: s.cmd}, nil
}

// Peek returns the pending command for siteID without removing it.
func (m *MemoryMailbox) Peek(_ context.Context, siteID int64) (*models.PendingCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[siteID]
	if !ok || !m.opts.now().Before(s.expiresAt) {
		return nil, nil
	}
	cmd := s.cmd
	return &cmd, nil
}

// Sweep drops expired slots and returns how many were removed.
func (m *MemoryMailbox) Sweep(_ context.Context) (int64, error) {
	now := m.opts.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.slots {
		if !now.Before(s.expiresAt) {
			delete(m.slots, id)
			n++
		}
	}
	return n, nil
}

// size returns the number of slots held, expired or not.
func (m *MemoryMailbox) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
