package commands

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("cmd_%d", n)
	}
}

func newTestMailbox() (*MemoryMailbox, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryMailbox(WithClock(clock.Now), WithIDGenerator(sequentialIDs())), clock
}

func TestMemoryMailbox_OverwriteAndPopOnRead(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMailbox()

	if err := m.Enqueue(ctx, 42, models.NewPendingCommand(pkgmodels.CommandStatus, nil)); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := m.Enqueue(ctx, 42, models.NewPendingCommand(pkgmodels.CommandRefresh, map[string]any{"n": 2})); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	cmd, err := m.PollAndClear(ctx, 42)
	if err != nil {
		t.Fatalf("PollAndClear() error: %v", err)
	}
	if cmd == nil || cmd.Kind != pkgmodels.CommandRefresh {
		t.Fatalf("expected the second command, got %+v", cmd)
	}
	if cmd.ID != "cmd_1" || cmd.Payload["n"] != 2 {
		t.Errorf("unexpected delivery: %+v", cmd)
	}

	again, err := m.PollAndClear(ctx, 42)
	if err != nil {
		t.Fatalf("PollAndClear() error: %v", err)
	}
	if again != nil {
		t.Errorf("second poll should be empty, got %+v", again)
	}
}

func TestMemoryMailbox_IDAssignedAtDelivery(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMailbox()

	m.Enqueue(ctx, 1, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))
	m.Enqueue(ctx, 2, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))

	peeked, _ := m.Peek(ctx, 1)
	if peeked == nil {
		t.Fatal("Peek() returned nothing")
	}

	a, _ := m.PollAndClear(ctx, 2)
	b, _ := m.PollAndClear(ctx, 1)
	if a.ID != "cmd_1" || b.ID != "cmd_2" {
		t.Errorf("ids should follow delivery order, got %s and %s", a.ID, b.ID)
	}
}

func TestMemoryMailbox_Expiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMailbox()

	m.Enqueue(ctx, 42, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))
	clock.Advance(DefaultTTL - time.Second)
	if p, _ := m.Peek(ctx, 42); p == nil {
		t.Fatal("command should still be pending before the TTL")
	}

	clock.Advance(2 * time.Second)
	if p, _ := m.Peek(ctx, 42); p != nil {
		t.Error("Peek() should not return an expired command")
	}
	cmd, err := m.PollAndClear(ctx, 42)
	if err != nil || cmd != nil {
		t.Errorf("expired command must never be delivered, got %+v, %v", cmd, err)
	}
}

func TestMemoryMailbox_SitesAreIndependent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMailbox()

	m.Enqueue(ctx, 1, models.NewPendingCommand(pkgmodels.CommandStop, nil))
	m.Enqueue(ctx, 2, models.NewPendingCommand(pkgmodels.CommandStatus, nil))

	if cmd, _ := m.PollAndClear(ctx, 1); cmd == nil || cmd.Kind != pkgmodels.CommandStop {
		t.Errorf("site 1: unexpected %+v", cmd)
	}
	if cmd, _ := m.PollAndClear(ctx, 2); cmd == nil || cmd.Kind != pkgmodels.CommandStatus {
		t.Errorf("site 2: unexpected %+v", cmd)
	}
}

func TestMemoryMailbox_Sweep(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMailbox()

	m.Enqueue(ctx, 1, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))
	clock.Advance(4 * time.Minute)
	m.Enqueue(ctx, 2, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))
	clock.Advance(2 * time.Minute)

	n, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 1 || m.size() != 1 {
		t.Errorf("Sweep() removed %d, %d left; want 1 and 1", n, m.size())
	}
}

func TestMemoryMailbox_ConcurrentPollDeliversOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMailbox()
	m.Enqueue(ctx, 7, models.NewPendingCommand(pkgmodels.CommandRefresh, nil))

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cmd, _ := m.PollAndClear(ctx, 7); cmd != nil {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if delivered != 1 {
		t.Errorf("command delivered %d times, want 1", delivered)
	}
}

func TestNewCommandID(t *testing.T) {
	a, b := NewCommandID(), NewCommandID()
	if a == b {
		t.Error("ids should be unique")
	}
	if len(a) != len("cmd_")+36 || a[:4] != "cmd_" {
		t.Errorf("unexpected id format %q", a)
	}
}
