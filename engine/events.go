package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType classifies engine events.
type EventType string

const (
	EventTurnUpdate    EventType = "turn_update"
	EventRoundComplete EventType = "round_complete"
	EventRoundFailed   EventType = "round_failed"
	EventRetry         EventType = "retry"
	EventHeartbeat     EventType = "heartbeat"
	EventAutopilot     EventType = "autopilot"
	EventCombat        EventType = "combat"
	EventCompression   EventType = "compression"
)

// subscriptionCounter generates unique subscription IDs; a plain
// counter avoids nanosecond-timestamp collisions under concurrency.
var subscriptionCounter int64

// Event is one observable engine occurrence.
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// EventHandler consumes events. Handlers run on their own goroutines;
// a panicking handler is recovered and logged, never crashes the bus.
type EventHandler func(Event)

// EventBus is the engine's publish/subscribe surface.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// SimpleEventBus is a buffered-channel bus. Publishing never blocks
// gameplay: when the buffer is full the event is dropped.
type SimpleEventBus struct {
	mu           sync.RWMutex
	handlers     map[EventType]map[string]EventHandler
	eventChannel chan Event
	done         chan struct{}
	stopOnce     sync.Once
	logger       *zap.Logger
}

// NewEventBus creates and starts an event bus.
func NewEventBus(logger *zap.Logger) EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &SimpleEventBus{
		handlers:     make(map[EventType]map[string]EventHandler),
		eventChannel: make(chan Event, 100),
		done:         make(chan struct{}),
		logger:       logger,
	}
	go bus.processEvents()
	return bus
}

// Publish enqueues an event for delivery.
func (b *SimpleEventBus) Publish(event Event) {
	select {
	case b.eventChannel <- event:
	case <-b.done:
	default:
		// Full buffer drops the event.
	}
}

// Subscribe registers a handler for one event type and returns its
// subscription ID.
func (b *SimpleEventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription.
func (b *SimpleEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *SimpleEventBus) processEvents() {
	for {
		select {
		case event := <-b.eventChannel:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			handlers := make([]EventHandler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop shuts the bus down. Pending events are discarded.
func (b *SimpleEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

// TurnUpdateEvent fires after each agent turn within a round.
type TurnUpdateEvent struct {
	SessionID  string
	TurnNumber int
	Agent      string
	At         time.Time
}

func (e *TurnUpdateEvent) Timestamp() time.Time { return e.At }
func (e *TurnUpdateEvent) Type() EventType      { return EventTurnUpdate }

// RoundCompleteEvent fires when a round reaches END or stalls at the
// human node.
type RoundCompleteEvent struct {
	SessionID      string
	NewLogLines    int
	Stalled        bool
	CheckpointTurn int
	At             time.Time
}

func (e *RoundCompleteEvent) Timestamp() time.Time { return e.At }
func (e *RoundCompleteEvent) Type() EventType      { return EventRoundComplete }

// RoundFailedEvent fires when a round fails and the prior state is
// returned to the caller.
type RoundFailedEvent struct {
	SessionID          string
	Agent              string
	Code               string
	Retryable          bool
	LastCheckpointTurn int
	At                 time.Time
}

func (e *RoundFailedEvent) Timestamp() time.Time { return e.At }
func (e *RoundFailedEvent) Type() EventType      { return EventRoundFailed }

// RetryEvent fires on each autopilot retry during error backoff.
type RetryEvent struct {
	SessionID      string
	Attempt        int
	BackoffSeconds float64
	Status         string
	At             time.Time
}

func (e *RetryEvent) Timestamp() time.Time { return e.At }
func (e *RetryEvent) Type() EventType      { return EventRetry }

// HeartbeatEvent fires periodically while the autopilot waits out a
// backoff window.
type HeartbeatEvent struct {
	SessionID string
	Status    string
	At        time.Time
}

func (e *HeartbeatEvent) Timestamp() time.Time { return e.At }
func (e *HeartbeatEvent) Type() EventType      { return EventHeartbeat }

// AutopilotEvent reports autopilot lifecycle changes with a
// machine-readable reason code.
type AutopilotEvent struct {
	SessionID string
	Phase     string // started / stopped
	Reason    StopReason
	Rounds    int
	At        time.Time
}

func (e *AutopilotEvent) Timestamp() time.Time { return e.At }
func (e *AutopilotEvent) Type() EventType      { return EventAutopilot }

// CombatEvent reports combat starting or ending.
type CombatEvent struct {
	SessionID string
	Active    bool
	Round     int
	At        time.Time
}

func (e *CombatEvent) Timestamp() time.Time { return e.At }
func (e *CombatEvent) Type() EventType      { return EventCombat }

// CompressionEvent reports one memory-compression pass.
type CompressionEvent struct {
	SessionID string
	Agent     string
	Tier      int
	At        time.Time
}

func (e *CompressionEvent) Timestamp() time.Time { return e.At }
func (e *CompressionEvent) Type() EventType      { return EventCompression }
