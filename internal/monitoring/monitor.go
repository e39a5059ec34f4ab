// Package monitoring watches agent contact and reports sites whose agent went silent.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the check every minute.
const DefaultSchedule = "@every 1m"

// Store defines the database operations needed by the monitor.
type Store interface {
	ListSites(ctx context.Context) ([]*models.Site, error)
}

// AgentGauge receives the agent counts after each check.
type AgentGauge interface {
	SetAgentCount(state string, n int)
}

// Gauge states reported by the monitor.
const (
	StateActive = "active"
	StateStale  = "stale"
)

// Result summarizes one check.
type Result struct {
	Active     int
	Stale      int
	WentSilent []int64
	CameBack   []int64
	CheckedAt  time.Time
}

// Monitor checks agent contact on a cron schedule.
type Monitor struct {
	store    Store
	gauge    AgentGauge
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron
	now      func() time.Time

	mu    sync.Mutex
	stale map[int64]bool
}

// NewMonitor creates a Monitor. gauge may be nil.
func NewMonitor(store Store, gauge AgentGauge, schedule string, logger zerolog.Logger) *Monitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Monitor{
		store:    store,
		gauge:    gauge,
		schedule: schedule,
		logger:   logger.With().Str("component", "agent_monitor").Logger(),
		cron:     cron.New(),
		now:      time.Now,
		stale:    make(map[int64]bool),
	}
}

// Start schedules the check. It returns an error for an invalid schedule.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error().Err(err).Msg("agent contact check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule agent monitor: %w", err)
	}
	m.cron.Start()
	m.logger.Info().Str("schedule", m.schedule).Msg("agent monitor started")
	return nil
}

// Stop stops the schedule and waits for a running check.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info().Msg("agent monitor stopped")
}

// Check classifies every site with an agent token as active or stale and
// logs transitions since the previous check.
func (m *Monitor) Check(ctx context.Context) (Result, error) {
	sites, err := m.store.ListSites(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list sites: %w", err)
	}

	now := m.now()
	res := Result{CheckedAt: now}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int64]bool, len(sites))
	for _, site := range sites {
		if !site.HasAgentToken() || !site.IsActive {
			continue
		}
		seen[site.ID] = true

		wasStale, known := m.stale[site.ID]
		isStale := !site.HasActiveAgent(now)
		m.stale[site.ID] = isStale

		if isStale {
			res.Stale++
		} else {
			res.Active++
		}

		switch {
		case isStale && (!known || !wasStale):
			res.WentSilent = append(res.WentSilent, site.ID)
			event := m.logger.Warn().Int64("site_id", site.ID).Str("site", site.Name)
			if site.LastAgentContact != nil {
				event = event.Time("last_contact", *site.LastAgentContact)
			}
			event.Msg("agent has not made contact recently")
		case !isStale && known && wasStale:
			res.CameBack = append(res.CameBack, site.ID)
			m.logger.Info().Int64("site_id", site.ID).Str("site", site.Name).Msg("agent is back in contact")
		}
	}

	for id := range m.stale {
		if !seen[id] {
			delete(m.stale, id)
		}
	}

	if m.gauge != nil {
		m.gauge.SetAgentCount(StateActive, res.Active)
		m.gauge.SetAgentCount(StateStale, res.Stale)
	}
	return res, nil
}
