package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often expired slots are purged.
const DefaultSweepInterval = 30 * time.Second

// Sweeper removes expired command slots.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepWorker periodically purges expired slots from a mailbox that does not
// expire them itself. Expiry is also enforced on read, so the worker only
// bounds memory.
type SweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweepWorker creates a new SweepWorker.
func NewSweepWorker(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) *SweepWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SweepWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With().Str("component", "command_sweep_worker").Logger(),
	}
}

// Start runs the worker until the context is canceled.
func (w *SweepWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("starting command sweep worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("stopping command sweep worker")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	count, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to sweep expired commands")
		return
	}
	if count > 0 {
		w.logger.Debug().Int64("count", count).Msg("dropped expired commands")
	}
}
