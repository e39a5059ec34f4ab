// Package commands holds the one-slot command mailbox between operators and agents.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/google/uuid"
)

// DefaultTTL is how long an undelivered command stays pollable.
const DefaultTTL = models.DefaultCommandTTL

// Mailbox stores at most one pending command per site. Enqueue overwrites any
// pending command; PollAndClear removes it and assigns its delivery id.
type Mailbox interface {
	Enqueue(ctx context.Context, siteID int64, cmd models.PendingCommand) error
	// PollAndClear returns nil, nil when nothing unexpired is pending.
	PollAndClear(ctx context.Context, siteID int64) (*models.DeliveredCommand, error)
	// Peek returns the pending command without consuming it.
	Peek(ctx context.Context, siteID int64) (*models.PendingCommand, error)
}

// IDGenerator produces command delivery ids.
type IDGenerator func() string

// NewCommandID returns "cmd_" followed by a random UUID.
func NewCommandID() string {
	return "cmd_" + uuid.NewString()
}

// Option configures a mailbox.
type Option func(*options)

type options struct {
	ttl   time.Duration
	newID IDGenerator
	now   func() time.Time
}

func defaultOptions() options {
	return options{ttl: DefaultTTL, newID: NewCommandID, now: time.Now}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithIDGenerator overrides NewCommandID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func slotKey(siteID int64) string {
	return fmt.Sprintf("agent_command:%d", siteID)
}
