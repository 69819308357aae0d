// Package conversation owns the state of one chat session: the draft, the
// ordered messages, the loading flag and the last error. Front-ends drive it
// through SetDraft and Send and redraw from Snapshot when its EventBus fires.
package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"aichat/internal/backend"
	"aichat/internal/bus"
	"aichat/internal/domain"
	"aichat/internal/metrics"

	"github.com/google/uuid"
)

const (
	DefaultGreeting = "Hi 👋 I am your AI assistant."
	WarningPrefix   = "⚠️ "
)

var (
	// ErrInFlight is returned when Send is called while a request is outstanding.
	// The call changes nothing.
	ErrInFlight = errors.New("conversation: request already in flight")
	// ErrClosed is returned once the owning view has been torn down.
	ErrClosed = errors.New("conversation: closed")
)

// Phase is a step of the send state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseRejected   Phase = "rejected"
	PhaseSending    Phase = "sending"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// State is a point-in-time copy of the conversation.
type State struct {
	SessionID string           `json:"sessionId"`
	Draft     string           `json:"draft"`
	Messages  []domain.Message `json:"messages"`
	Loading   bool             `json:"loading"`
	Error     string           `json:"error,omitempty"`
	Phase     Phase            `json:"phase"`
}

type Config struct {
	Backend   domain.Backend
	Greeting  string // seeded AI message; DefaultGreeting when empty
	MaxLength int    // DefaultMaxLength when <= 0
	SessionID string // generated when empty
	Events    *bus.EventBus
	Recorder  domain.SendRecorder // optional
	Logger    *slog.Logger
}

// Controller is safe for concurrent use. At most one request is in flight.
type Controller struct {
	backend   domain.Backend
	maxLength int
	sessionID string
	events    *bus.EventBus
	recorder  domain.SendRecorder
	logger    *slog.Logger

	mu       sync.Mutex
	draft    string
	messages []domain.Message
	loading  bool
	errMsg   string
	phase    Phase
	closed   bool
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	return &Controller{
		backend:   cfg.Backend,
		maxLength: cfg.MaxLength,
		sessionID: cfg.SessionID,
		events:    cfg.Events,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger.With("session", cfg.SessionID),
		messages:  []domain.Message{{Role: domain.RoleAI, Text: cfg.Greeting}},
		phase:     PhaseIdle,
	}
}

func (c *Controller) SessionID() string     { return c.sessionID }
func (c *Controller) Events() *bus.EventBus { return c.events }
func (c *Controller) MaxLength() int        { return c.maxLength }

// SetDraft replaces the unsent input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		m.Data = m.Data.Clone()
		msgs[i] = m
	}
	return State{
		SessionID: c.sessionID,
		Draft:     c.draft,
		Messages:  msgs,
		Loading:   c.loading,
		Error:     c.errMsg,
		Phase:     c.phase,
	}
}

// Close marks the owning view as gone. A request still in flight runs to
// completion but its result is dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.emit(bus.EventClosed, nil)
}

// Send validates the draft and, if it passes, appends it as a user message and
// waits for the backend reply. It returns nil on success, a *ValidationError when
// the draft was rejected, ErrInFlight or ErrClosed when the call was a no-op, and
// the backend error when the request failed (the failure is already reflected in
// the state).
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.loading {
		c.mu.Unlock()
		metrics.SendsDropped.Inc()
		c.logger.Debug("send ignored, request in flight")
		return ErrInFlight
	}

	c.phase = PhaseValidating
	c.errMsg = ""
	text, verr := validateDraft(c.draft, c.maxLength)
	if verr != nil {
		c.errMsg = verr.Message
		c.phase = PhaseIdle
		c.mu.Unlock()

		metrics.SendsRejected.Inc()
		c.logger.Debug("draft rejected", "reason", verr.Reason, "length", verr.Length)
		c.emit(bus.EventSendRejected, map[string]any{
			"phase":  PhaseRejected,
			"reason": verr.Reason,
			"error":  verr.Message,
		})
		c.record(ctx, domain.SendRecord{
			Outcome:       domain.OutcomeRejected,
			Reason:        string(verr.Reason),
			MessageLength: verr.Length,
		})
		return verr
	}

	c.messages = append(c.messages, domain.Message{Role: domain.RoleUser, Text: text})
	userIndex := len(c.messages) - 1
	c.draft = ""
	c.loading = true
	c.phase = PhaseSending
	c.mu.Unlock()

	c.emit(bus.EventMessageAppended, map[string]any{"index": userIndex, "role": domain.RoleUser})
	c.emit(bus.EventSendStarted, map[string]any{"phase": PhaseSending})

	return c.dispatch(ctx, text)
}

// dispatch performs the backend call. The loading flag is released on every
// exit path, including a panicking backend.
func (c *Controller) dispatch(ctx context.Context, text string) error {
	metrics.SendsStarted.Inc()
	metrics.InFlight.Inc()
	start := time.Now()

	released := false
	defer func() {
		metrics.InFlight.Dec()
		if !released {
			c.mu.Lock()
			c.loading = false
			c.phase = PhaseIdle
			c.mu.Unlock()
		}
	}()

	reply, err := c.backend.Chat(ctx, text)
	latency := time.Since(start)
	metrics.SendLatency.Observe(latency.Seconds())

	rec := domain.SendRecord{
		MessageLength: utf8.RuneCountInString(text),
		LatencyMs:     latency.Milliseconds(),
	}

	c.mu.Lock()
	if c.closed {
		c.loading = false
		c.phase = PhaseIdle
		released = true
		c.mu.Unlock()
		c.logger.Info("view closed during request, result dropped", "err", err)
		return ErrClosed
	}

	var aiMsg domain.Message
	phase := PhaseSucceeded
	if err != nil {
		friendly := backend.FriendlyMessage(err)
		c.errMsg = friendly
		aiMsg = domain.Message{Role: domain.RoleAI, Text: WarningPrefix + friendly}
		phase = PhaseFailed
		rec.Outcome, rec.StatusCode = classifyFailure(err)
	} else {
		aiMsg = reply.Message()
		rec.Outcome = domain.OutcomeSucceeded
		rec.ReplyKind = reply.Kind
	}
	c.messages = append(c.messages, aiMsg)
	aiIndex := len(c.messages) - 1
	c.loading = false
	c.phase = PhaseIdle
	errMsg := c.errMsg
	released = true
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("send failed", "outcome", rec.Outcome, "status", rec.StatusCode, "err", err)
	} else {
		countReply(reply.Kind)
		c.logger.Debug("reply received", "kind", reply.Kind, "latency_ms", rec.LatencyMs)
	}

	c.emit(bus.EventMessageAppended, map[string]any{"index": aiIndex, "role": domain.RoleAI})
	c.emit(bus.EventSendFinished, map[string]any{"phase": phase, "error": errMsg})
	c.record(ctx, rec)
	return err
}

func classifyFailure(err error) (domain.SendOutcome, int) {
	var httpErr *backend.HTTPError
	switch {
	case errors.As(err, &httpErr):
		metrics.HTTPErrors.Inc()
		return domain.OutcomeHTTPError, httpErr.StatusCode
	case errors.Is(err, backend.ErrMalformedResponse):
		metrics.MalformedErrs.Inc()
		return domain.OutcomeMalformed, 0
	default:
		metrics.TransportErrs.Inc()
		return domain.OutcomeTransportError, 0
	}
}

func countReply(kind domain.ReplyKind) {
	if kind == domain.ReplyStructured {
		metrics.RepliesStruct.Inc()
		return
	}
	metrics.RepliesText.Inc()
}

func (c *Controller) emit(eventType string, payload map[string]any) {
	c.events.Emit(bus.Event{Type: eventType, Source: c.sessionID, Payload: payload})
}

func (c *Controller) record(ctx context.Context, rec domain.SendRecord) {
	if c.recorder == nil {
		return
	}
	rec.SessionID = c.sessionID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := c.recorder.RecordSend(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("record send outcome", "err", err)
	}
}
