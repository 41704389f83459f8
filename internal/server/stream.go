package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/questflow/api"
	"github.com/BaSui01/questflow/engine"
)

// streamWriteTimeout bounds one websocket write; a stuck client must
// not back-pressure the event bus.
const streamWriteTimeout = 5 * time.Second

// streamedEventTypes lists everything forwarded to websocket clients.
var streamedEventTypes = []engine.EventType{
	engine.EventTurnUpdate,
	engine.EventRoundComplete,
	engine.EventRoundFailed,
	engine.EventRetry,
	engine.EventHeartbeat,
	engine.EventAutopilot,
	engine.EventCombat,
	engine.EventCompression,
}

// Broadcaster fans engine events out to websocket clients. It is an
// http.Handler: each request upgrades to a websocket subscribed to
// every engine event type until the client disconnects.
type Broadcaster struct {
	bus    engine.EventBus
	logger *zap.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	subs   []string
	closed bool
}

// NewBroadcaster subscribes to the bus and returns the handler.
func NewBroadcaster(bus engine.EventBus, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		bus:    bus,
		logger: logger.With(zap.String("component", "event_stream")),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	for _, et := range streamedEventTypes {
		b.subs = append(b.subs, bus.Subscribe(et, b.forward))
	}
	return b
}

// ServeHTTP upgrades the request and holds the connection open until
// the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "stream closed")
		return
	}
	b.conns[conn] = struct{}{}
	n := len(b.conns)
	b.mu.Unlock()
	b.logger.Info("websocket client connected", zap.Int("clients", n))

	// The stream is write-only; the read loop exists to observe the
	// close handshake.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	b.drop(conn, websocket.StatusNormalClosure)
}

// forward serializes one event and writes it to every client. Failed
// clients are dropped.
func (b *Broadcaster) forward(e engine.Event) {
	payload, err := json.Marshal(api.EventEnvelope{
		Type:    string(e.Type()),
		At:      e.Timestamp(),
		Payload: e,
	})
	if err != nil {
		b.logger.Error("event marshal failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
		err := c.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			b.drop(c, websocket.StatusAbnormalClosure)
		}
	}
}

func (b *Broadcaster) drop(c *websocket.Conn, status websocket.StatusCode) {
	b.mu.Lock()
	_, present := b.conns[c]
	delete(b.conns, c)
	b.mu.Unlock()
	if present {
		c.Close(status, "")
		b.logger.Info("websocket client disconnected")
	}
}

// Close unsubscribes from the bus and disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[*websocket.Conn]struct{})
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, id := range subs {
		b.bus.Unsubscribe(id)
	}
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "stream closed")
	}
}
