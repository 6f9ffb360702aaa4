package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/notify"
)

const (
	// MarketsChannel carries committed lifecycle events for live clients.
	MarketsChannel = "markets"
	// FeedsChannel carries price updates.
	FeedsChannel = "feeds"
	// EventStream keeps the replayable history of lifecycle events.
	EventStream = "market_events"

	notifyTimeout = 15 * time.Second
)

// Publisher fans committed events out to the signal bus and operator
// notifications. Either sink may be nil. Publishing never fails the caller:
// the ledger transaction has already committed.
type Publisher struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "publisher")),
		now:      time.Now,
	}
}

// Publish stamps ev and sends it to the markets channel, the event stream,
// and (asynchronously) the notifier.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) {
	if p == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}

	if p.bus != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
			return
		}
		if err := p.bus.Publish(ctx, MarketsChannel, data); err != nil {
			p.logger.WarnContext(ctx, "publish event failed",
				slog.String("type", string(ev.Type)),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
		if err := p.bus.StreamAppend(ctx, EventStream, data); err != nil {
			p.logger.WarnContext(ctx, "append event failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if p.notifier.Enabled() {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			_ = p.notifier.NotifyEvent(nctx, ev)
		}()
	}
}

// PublishRaw sends an already-encoded payload on channel.
func (p *Publisher) PublishRaw(ctx context.Context, channel string, payload []byte) {
	if p == nil || p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
