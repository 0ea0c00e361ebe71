package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/cache/memory"
	"github.com/alanyoungcy/exitguard/internal/domain"
)

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:          "FULL",
		OpenPositions: func(context.Context) (int, error) { return 3, nil },
	})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readFrame(t, conn)
	assert.Equal(t, "status", status.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(status.Payload, &payload))
	assert.Equal(t, "full", payload["mode"])
	assert.EqualValues(t, 3, payload["open_positions"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// Keep publishing until the hub's bus subscription is live.
	msg := []byte(`{"event":"position_closed","id":"p1"}`)
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bus.Publish(ctx, domain.ChannelPositions, msg)
			}
		}
	}()

	got := readFrame(t, conn)
	assert.Equal(t, "event", got.Type)
	assert.Equal(t, domain.ChannelPositions, got.Channel)
	assert.JSONEq(t, string(msg), string(got.Payload))
}

func TestHubUnsubscribe(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPositions: true, domain.ChannelPrices: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPrices}})
	assert.False(t, c.isSubscribed(domain.ChannelPrices))
	assert.True(t, c.isSubscribed(domain.ChannelPositions))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelPrices}})
	assert.True(t, c.isSubscribed(domain.ChannelPrices))
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(memory.NewSignalBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, hub.checkOrigin(r), tt.origin)
	}
}
