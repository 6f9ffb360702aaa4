package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	msgs []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func claimEvent() domain.Event {
	return domain.Event{
		Type:     domain.EventRewardClaimed,
		MarketID: "btc-hourly",
		Actor:    "0xabc",
		Detail:   map[string]any{"payout": uint64(190_000_000), "fee": uint64(10_000_000)},
		At:       time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	msg := Render(claimEvent())
	assert.Equal(t, domain.EventRewardClaimed, msg.Event)
	assert.Equal(t, "Reward claimed: btc-hourly", msg.Title)
	assert.Equal(t, "0.19", msg.Fields["payout"])
	assert.Equal(t, "0.01", msg.Fields["fee"])
	assert.Equal(t, "0xabc", msg.Fields["actor"])
	assert.Contains(t, msg.Body, "payout: 0.19")
	assert.Contains(t, msg.Body, "2026-03-01 15:00:00 UTC")
}

func TestNotifierFiltersAndCollectsErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("rate limited")}
	n := NewNotifier([]Sender{ok, bad}, []string{"reward_claimed", " market_confirmed "}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventBetPlaced}))
	assert.Empty(t, ok.msgs)

	err := n.NotifyEvent(ctx, claimEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: rate limited")
	assert.Len(t, ok.msgs, 1)
	assert.Len(t, bad.msgs, 1)
}

func TestNotifierDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyEvent(context.Background(), claimEvent()))

	n = NewNotifier(nil, nil, testLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyEvent(context.Background(), claimEvent()))
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), Render(claimEvent())))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Reward claimed: btc-hourly", got.Embeds[0].Title)
	assert.Equal(t, 0x9b59b6, got.Embeds[0].Color)
	require.Len(t, got.Embeds[0].Fields, 3)
	assert.Equal(t, "actor", got.Embeds[0].Fields[0].Name)
}

func TestDiscordSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Render(claimEvent()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("123:abc", "-10042")
	s.apiBase = srv.URL
	msg := Render(claimEvent())
	msg.Title = "Reward <claimed>"
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-10042", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Contains(t, got["text"], "<b>Reward &lt;claimed&gt;</b>")
}

func TestTelegramSenderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("t", "c")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), Render(claimEvent()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
