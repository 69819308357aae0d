// Package devserver is a stand-in chat backend for local development. It
// speaks the same POST /chat contract the front-ends consume, including the
// error statuses they map to friendly messages.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"aichat/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	maxBodySize      = 1 << 20 // 1MB
	defaultMaxLength = 500
)

type Config struct {
	Host               string
	Port               int
	AllowedOrigins     []string
	MaxMessageLength   int
	RateLimitPerMinute int // 0 disables rate limiting
	Burst              int
	Responder          Responder
	MetricsEndpoint    string // empty disables /metrics
	Logger             *slog.Logger
}

type Server struct {
	host     string
	port     int
	maxLen   int
	respond  Responder
	limiters *clientLimiters
	logger   *slog.Logger
	router   chi.Router
	server   *http.Server
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxLength
	}
	if cfg.Responder == nil {
		cfg.Responder = StructuredResponder()
	}

	s := &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		maxLen:  cfg.MaxMessageLength,
		respond: cfg.Responder,
		logger:  cfg.Logger,
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiters = newClientLimiters(cfg.Burst, float64(cfg.RateLimitPerMinute))
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", s.handleChat)
	if cfg.MetricsEndpoint != "" {
		r.Get(cfg.MetricsEndpoint, metrics.Collector.Handler())
	}
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dev backend started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type chatRequest struct {
	Message *string `json:"message"`
}

type chatResponse struct {
	Reply any `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	metrics.DevRequests.Inc()

	if s.limiters != nil {
		bucket := s.limiters.get(clientKey(r))
		if !bucket.Allow() {
			metrics.DevLimited.Inc()
			secs := int(bucket.RetryAfter().Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please wait a moment and try again.")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "Request body is too large.")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_json", "Request body must be JSON with a message field.")
		return
	}
	if req.Message == nil || strings.TrimSpace(*req.Message) == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "Message must not be empty.")
		return
	}
	msg := strings.TrimSpace(*req.Message)
	if utf8.RuneCountInString(msg) > s.maxLen {
		writeError(w, r, http.StatusRequestEntityTooLarge, "too_long",
			fmt.Sprintf("Message is too long (max %d characters).", s.maxLen))
		return
	}
	if se := statusDirective(msg); se != nil {
		writeError(w, r, se.Code, "simulated", se.Message)
		return
	}

	reply, err := s.safeRespond(r.Context(), msg)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			writeError(w, r, se.Code, "upstream", se.Message)
			return
		}
		s.logger.Error("responder failed", "request_id", chimiddleware.GetReqID(r.Context()), "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "The assistant failed to answer.")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// safeRespond turns a responder panic into an error.
func (s *Server) safeRespond(ctx context.Context, msg string) (reply any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("responder panic: %v", rec)
		}
	}()
	return s.respond.Respond(ctx, msg)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// clientKey identifies the caller for rate limiting. RealIP has already
// rewritten RemoteAddr from proxy headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{
		Code:      code,
		Message:   message,
		RequestID: chimiddleware.GetReqID(r.Context()),
	}})
}
