package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/rs/zerolog"
)

// DeliveryTimeout bounds the delivery of one event to one asynchronous sink.
const DeliveryTimeout = time.Minute

// Sink receives site events.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event models.SiteEvent) error
}

// Notifier publishes site events to every configured sink. The first sink
// is delivered synchronously; the others in background goroutines so a slow
// webhook never delays an agent request.
type Notifier struct {
	primary    Sink
	background []Sink
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a Notifier. primary may be nil.
func NewNotifier(logger zerolog.Logger, primary Sink, background ...Sink) *Notifier {
	return &Notifier{
		primary:    primary,
		background: background,
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// Publish delivers event. Delivery errors are logged, never returned.
func (n *Notifier) Publish(ctx context.Context, event models.SiteEvent) {
	if n.primary != nil {
		if err := n.primary.Notify(ctx, event); err != nil {
			n.logDeliveryError(n.primary, event, err)
		}
	}

	for _, s := range n.background {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeliveryTimeout)
			defer cancel()
			if err := s.Notify(ctx, event); err != nil {
				n.logDeliveryError(s, event, err)
			}
		}(s)
	}
}

// Wait blocks until background deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) logDeliveryError(s Sink, event models.SiteEvent, err error) {
	n.logger.Warn().Err(err).
		Str("sink", s.Name()).
		Str("event", string(event.Type)).
		Str("channel", event.Channel).
		Msg("failed to deliver event")
}
