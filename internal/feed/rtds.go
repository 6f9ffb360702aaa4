package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	cryptoPricesTopic = "crypto_prices"
)

// PriceHandler is called after each price is stored.
type PriceHandler func(ctx context.Context, s domain.PriceSample)

// rtdsSubscription is one entry of the RTDS subscribe command.
type rtdsSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

type rtdsCommand struct {
	Action        string             `json:"action"`
	Subscriptions []rtdsSubscription `json:"subscriptions"`
}

// rtdsMessage is a crypto_prices update:
//
//	{"topic":"crypto_prices","type":"update","timestamp":1753314064237,
//	 "payload":{"symbol":"btcusdt","timestamp":1753314064213,"value":118026.43}}
type rtdsMessage struct {
	Topic     string `json:"topic"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		Symbol    string          `json:"symbol"`
		Timestamp int64           `json:"timestamp"`
		Value     decimal.Decimal `json:"value"`
	} `json:"payload"`
}

// RTDSFeed streams crypto prices from the real-time data service into a
// domain.PriceCache. Feed identifiers are the lower-cased RTDS symbols. It
// reconnects with exponential backoff until stopped.
type RTDSFeed struct {
	wsURL   string
	symbols []string
	cache   domain.PriceCache
	onPrice PriceHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRTDSFeed creates a feed for the given symbols. onPrice may be nil.
func NewRTDSFeed(wsURL string, symbols []string, cache domain.PriceCache, onPrice PriceHandler, logger *slog.Logger) *RTDSFeed {
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			norm = append(norm, s)
		}
	}
	return &RTDSFeed{
		wsURL:   wsURL,
		symbols: norm,
		cache:   cache,
		onPrice: onPrice,
		logger:  logger.With(slog.String("component", "rtds_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes, and ingests until ctx is cancelled or Close is
// called.
func (f *RTDSFeed) Run(ctx context.Context) error {
	if f.wsURL == "" {
		f.logger.Info("no rtds url configured, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("rtds disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *RTDSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *RTDSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("rtds: connect: %w", err)
	}
	defer conn.Close()

	cmd := rtdsCommand{
		Action: "subscribe",
		Subscriptions: []rtdsSubscription{{
			Topic:   cryptoPricesTopic,
			Type:    "update",
			Filters: strings.Join(f.symbols, ","),
		}},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("rtds: subscribe: %w", err)
	}
	f.logger.Info("rtds subscribed", slog.Int("symbols", len(f.symbols)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(connCtx, conn)
	go func() {
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("rtds: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := f.handleMessage(ctx, raw); err != nil {
			f.logger.Debug("rtds message dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(raw)),
			)
		}
	}
}

func (f *RTDSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *RTDSFeed) handleMessage(ctx context.Context, raw []byte) error {
	var msg rtdsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	if msg.Topic != cryptoPricesTopic || msg.Type != "update" {
		return nil
	}
	symbol := strings.ToLower(strings.TrimSpace(msg.Payload.Symbol))
	if symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if !msg.Payload.Value.IsPositive() {
		return fmt.Errorf("non-positive price for %s", symbol)
	}

	tsMillis := msg.Payload.Timestamp
	if tsMillis == 0 {
		tsMillis = msg.Timestamp
	}
	ts := time.UnixMilli(tsMillis).UTC()
	if tsMillis == 0 {
		ts = time.Now().UTC()
	}

	if err := f.cache.SetPrice(ctx, symbol, msg.Payload.Value, ts); err != nil {
		return err
	}
	if f.onPrice != nil {
		f.onPrice(ctx, domain.PriceSample{FeedID: symbol, Price: msg.Payload.Value, PublishedAt: ts})
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
