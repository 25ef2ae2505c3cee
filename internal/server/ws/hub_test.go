package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/lotengine/internal/cache/memory"
	"github.com/alanyoungcy/lotengine/internal/domain"
)

func startHub(t *testing.T) (*Hub, *memory.Bus, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := memory.NewBus()
	hub := NewHub(bus, nil, slog.New(slog.DiscardHandler))
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, hub.Clients())
	return hub, bus, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	check.Equal(t, websocket.TextMessage, typ)
	var env Envelope
	assert.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_RelaysLotUpdates(t *testing.T) {
	_, bus, conn := startHub(t)

	assert.NoError(t, bus.Publish(context.Background(), domain.ChannelLotUpdate, []byte(`{"lot_id":"bowl","current_bid_cents":5000}`)))

	env := readEnvelope(t, conn)
	check.Equal(t, domain.ChannelLotUpdate, env.Channel)
	check.True(t, strings.Contains(string(env.Data), `"bowl"`))
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, conn := startHub(t)
	ctx := context.Background()

	assert.NoError(t, conn.WriteJSON(controlMsg{Action: "unsubscribe", Channels: []string{domain.ChannelEvents}}))

	// Wait until the hub has applied the control message.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		var stillSubscribed bool
		for c := range hub.clients {
			stillSubscribed = c.subscribed(domain.ChannelEvents)
		}
		hub.mu.RUnlock()
		if !stillSubscribed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.NoError(t, bus.Publish(ctx, domain.ChannelEvents, []byte(`{"type":"auction_ended"}`)))
	assert.NoError(t, bus.Publish(ctx, domain.ChannelLotUpdate, []byte(`{"lot_id":"vase"}`)))

	env := readEnvelope(t, conn)
	check.Equal(t, domain.ChannelLotUpdate, env.Channel)
}

func TestOriginChecker(t *testing.T) {
	allow := originChecker([]string{"https://shop.example"})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://shop.example")
	check.True(t, allow(req))

	req.Header.Set("Origin", "https://evil.example")
	check.False(t, allow(req))

	check.True(t, originChecker(nil)(req))
}
