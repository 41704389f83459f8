package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/api"
	"github.com/BaSui01/questflow/engine"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBroadcaster_DeliversEngineEvents(t *testing.T) {
	bus := engine.NewEventBus(nil)
	defer bus.Stop()
	b := NewBroadcaster(bus, nil)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription races the dial; publish until the envelope
	// arrives.
	got := make(chan api.EventEnvelope, 1)
	go func() {
		_, data, rerr := conn.Read(ctx)
		if rerr != nil {
			return
		}
		var env api.EventEnvelope
		if json.Unmarshal(data, &env) == nil {
			got <- env
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case env := <-got:
			assert.Equal(t, string(engine.EventTurnUpdate), env.Type)
			assert.False(t, env.At.IsZero())
			return
		case <-ticker.C:
			bus.Publish(&engine.TurnUpdateEvent{
				SessionID: "s", Agent: "dm", TurnNumber: 1, At: time.Now(),
			})
		case <-ctx.Done():
			t.Fatal("no event delivered before timeout")
		}
	}
}

func TestBroadcaster_CloseDisconnectsClients(t *testing.T) {
	bus := engine.NewEventBus(nil)
	defer bus.Stop()
	b := NewBroadcaster(bus, nil)

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)

	b.Close()

	_, _, err = conn.Read(ctx)
	assert.Error(t, err, "closed broadcaster hangs up on its clients")
}

func TestBroadcaster_SurvivesClientDisconnect(t *testing.T) {
	bus := engine.NewEventBus(nil)
	defer bus.Stop()
	b := NewBroadcaster(bus, nil)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "done")

	// Publishing after the client left must not panic or block.
	for i := 0; i < 5; i++ {
		bus.Publish(&engine.HeartbeatEvent{SessionID: "s", At: time.Now()})
	}
	time.Sleep(100 * time.Millisecond)
}
