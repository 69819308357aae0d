package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"aichat/internal/conversation"
	"aichat/internal/domain"
	"aichat/internal/metrics"
	"aichat/internal/render"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxWSMessageSize = 64 << 10
	wsWriteTimeout   = 10 * time.Second
	stateBuffer      = 16
)

//go:embed web_templates/*.html
var templateFS embed.FS

// ConversationFactory builds the controller for one browser connection.
type ConversationFactory func(sessionID string) *conversation.Controller

// Web serves the browser chat UI. Each WebSocket connection owns its own
// conversation, torn down when the socket closes.
type Web struct {
	host            string
	port            int
	newConversation ConversationFactory
	metricsEndpoint string
	logger          *slog.Logger
	tmpl            *htmltemplate.Template
	upgrader        websocket.Upgrader
	server          *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient
}

var _ domain.Channel = (*Web)(nil)

type WebConfig struct {
	Host            string
	Port            int
	NewConversation ConversationFactory
	MetricsEndpoint string // empty disables /metrics
	Logger          *slog.Logger
}

// wsClient is one connected browser tab.
type wsClient struct {
	conn *websocket.Conn
	conv *conversation.Controller
	mu   sync.Mutex // serializes writes
}

// WSMessage is the browser-to-server protocol.
type WSMessage struct {
	Type string `json:"type"` // "send" | "draft"
	Text string `json:"text"`
}

// WSMessageView is one rendered chat bubble.
type WSMessageView struct {
	Role domain.Role `json:"role"`
	HTML string      `json:"html"`
}

// WSState is pushed to the browser after every conversation change.
type WSState struct {
	Type      string          `json:"type"` // "state"
	SessionID string          `json:"sessionId"`
	Messages  []WSMessageView `json:"messages"`
	Loading   bool            `json:"loading"`
	Error     string          `json:"error,omitempty"`
	Draft     string          `json:"draft"`
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Web{
		host:            cfg.Host,
		port:            cfg.Port,
		newConversation: cfg.NewConversation,
		metricsEndpoint: cfg.MetricsEndpoint,
		logger:          cfg.Logger,
		tmpl:            htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html")),
		clients:         make(map[string]*wsClient),
	}
	w.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return w
}

func (w *Web) Name() string { return "web" }

// Handler returns the HTTP routes of the web UI.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", w.handleIndex)
	mux.HandleFunc("GET /ws", w.handleUpgrade)
	mux.HandleFunc("GET /status", w.handleStatus)
	if w.metricsEndpoint != "" {
		mux.HandleFunc("GET "+w.metricsEndpoint, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := net.JoinHostPort(w.host, strconv.Itoa(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.logger.Info("web UI started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		w.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	w.closeAllClients()
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *Web) handleIndex(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tmpl.ExecuteTemplate(rw, "index.html", map[string]any{
		"Title": "AI Chat",
	}); err != nil {
		w.logger.Error("template error", "template", "index", "err", err)
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	n := len(w.clients)
	w.mu.RUnlock()
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{"status": "ok", "connections": n})
}

func (w *Web) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxWSMessageSize)

	sessionID := uuid.NewString()
	client := &wsClient{conn: conn, conv: w.newConversation(sessionID)}
	events, unsubscribe := client.conv.Events().Subscribe(stateBuffer)

	w.mu.Lock()
	w.clients[sessionID] = client
	w.mu.Unlock()
	metrics.WebConnections.Inc()
	w.logger.Info("websocket client connected", "session", sessionID)

	// Sends outlive the socket; a reply arriving after disconnect is dropped
	// by the closed controller.
	ctx := context.WithoutCancel(r.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for range events {
			if err := w.pushState(client); err != nil {
				w.logger.Debug("websocket write failed", "session", sessionID, "err", err)
			}
		}
	}()

	defer func() {
		client.conv.Close()
		unsubscribe()
		<-writerDone
		w.mu.Lock()
		delete(w.clients, sessionID)
		w.mu.Unlock()
		metrics.WebConnections.Dec()
		conn.Close()
		w.logger.Info("websocket client disconnected", "session", sessionID)
	}()

	if err := w.pushState(client); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("invalid websocket message", "err", err)
			continue
		}

		switch msg.Type {
		case "draft":
			client.conv.SetDraft(msg.Text)
		case "send":
			client.conv.SetDraft(msg.Text)
			go func() {
				if err := client.conv.Send(ctx); err != nil {
					w.logger.Debug("send finished with error", "session", sessionID, "err", err)
				}
			}()
		default:
			w.logger.Debug("unknown websocket message type", "type", msg.Type)
		}
	}
}

// pushState sends the full rendered state; the browser replaces its view.
func (w *Web) pushState(c *wsClient) error {
	st := c.conv.Snapshot()
	out := WSState{
		Type:      "state",
		SessionID: st.SessionID,
		Messages:  make([]WSMessageView, 0, len(st.Messages)),
		Loading:   st.Loading,
		Error:     st.Error,
		Draft:     st.Draft,
	}
	for _, m := range st.Messages {
		html, err := render.MessageHTML(m)
		if err != nil {
			return err
		}
		out.Messages = append(out.Messages, WSMessageView{Role: m.Role, HTML: string(html)})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(out)
}

func (w *Web) closeAllClients() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, c := range w.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose Origin host matches the Host header.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
