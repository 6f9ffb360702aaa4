// Package notify fans market lifecycle events out to operator chat
// channels (Telegram, Discord). Delivery is best effort: a failing channel is
// logged and never blocks or fails the settlement operation that produced
// the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Message is a rendered notification.
type Message struct {
	Event  domain.EventType
	Title  string
	Body   string
	Fields map[string]string
}

// Notifier renders events and delivers them to every sender concurrently.
// Only event types in the allow list are forwarded; an empty list allows
// all.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, filtered to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent renders ev and delivers it if its type passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	return n.dispatch(ctx, Render(ev))
}

func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, msg); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", string(msg.Event)),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", msg.Title),
			)
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

var eventTitles = map[domain.EventType]string{
	domain.EventMarketCreated:   "Market created",
	domain.EventBetPlaced:       "Bet placed",
	domain.EventMarketClosed:    "Market closed",
	domain.EventMarketSettled:   "Market settled",
	domain.EventMarketConfirmed: "Market confirmed",
	domain.EventRewardClaimed:   "Reward claimed",
	domain.EventFeedUpdated:     "Feed updated",
}

// amountFields are rendered in human units rather than base units.
var amountFields = map[string]bool{
	"amount": true, "payout": true, "fee": true, "total_pool": true, "distributable": true,
}

// Render formats an event into a Message.
func Render(ev domain.Event) Message {
	title, ok := eventTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}
	if ev.MarketID != "" {
		title += ": " + ev.MarketID
	}

	fields := make(map[string]string, len(ev.Detail)+1)
	if ev.Actor != "" {
		fields["actor"] = ev.Actor
	}
	for k, v := range ev.Detail {
		fields[k] = renderValue(k, v)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		lines = append(lines, k+": "+fields[k])
	}
	lines = append(lines, ev.At.UTC().Format("2006-01-02 15:04:05 MST"))

	return Message{Event: ev.Type, Title: title, Body: strings.Join(lines, "\n"), Fields: fields}
}

func renderValue(key string, v any) string {
	if amountFields[key] {
		switch n := v.(type) {
		case uint64:
			return amount.Format(n)
		case float64:
			if n >= 0 {
				return amount.Format(uint64(n))
			}
		}
	}
	return fmt.Sprint(v)
}
