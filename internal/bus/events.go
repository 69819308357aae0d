package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is a state-change notification published by a conversation.
type Event struct {
	Type      string         // e.g. "conversation.send_started"
	Source    string         // session ID of the emitting conversation
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe hub. Handlers run synchronously on
// the emitting goroutine, so they must not call back into the emitter while it
// holds a lock.
type EventBus struct {
	handlers map[string][]namedHandler
	nextID   int
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all registered handlers in registration order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Subscribe delivers every event on a buffered channel. When the buffer is full
// the event is dropped; subscribers that only redraw from a snapshot lose nothing.
// The returned func unsubscribes and closes the channel.
func (eb *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	var once sync.Once
	var closeMu sync.Mutex
	closed := false

	id := eb.On("*", func(e Event) {
		closeMu.Lock()
		defer closeMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			eb.logger.Debug("subscriber buffer full, event dropped", "event", e.Type)
		}
	})

	cancel := func() {
		once.Do(func() {
			eb.Off("*", id)
			closeMu.Lock()
			closed = true
			close(ch)
			closeMu.Unlock()
		})
	}
	return ch, cancel
}

// Well-known event types.
const (
	EventMessageAppended = "conversation.message_appended"
	EventSendStarted     = "conversation.send_started"
	EventSendFinished    = "conversation.send_finished"
	EventSendRejected    = "conversation.send_rejected"
	EventClosed          = "conversation.closed"
)
