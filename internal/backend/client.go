package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aichat/internal/domain"

	"github.com/google/uuid"
)

const maxResponseBytes = 4 << 20

// Client implements domain.Backend against POST {API_URL}/chat.
type Client struct {
	apiURL string
	client *http.Client
	logger *slog.Logger
}

type ClientConfig struct {
	APIURL     string        // used verbatim as the URL prefix
	Timeout    time.Duration // 0 = wait indefinitely
	HTTPClient *http.Client  // optional, overrides Timeout
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		apiURL: cfg.APIURL,
		client: cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

// APIURL returns the configured base URL.
func (c *Client) APIURL() string { return c.apiURL }

type chatRequest struct {
	Message string `json:"message"`
}

// Chat sends one message. Errors are *HTTPError, *TransportError, or wrap
// ErrMalformedResponse.
func (c *Client) Chat(ctx context.Context, message string) (domain.Reply, error) {
	payload, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return domain.Reply{}, &TransportError{Err: fmt.Errorf("new request: %w", err)}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("chat request failed", "request_id", requestID, "err", err)
		return domain.Reply{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Warn("chat response read failed", "request_id", requestID, "err", err)
		return domain.Reply{}, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("chat response",
		"request_id", requestID,
		"status", resp.StatusCode,
		"bytes", len(body),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Reply{}, &HTTPError{
			StatusCode:    resp.StatusCode,
			ServerMessage: parseErrorBody(body),
		}
	}

	return ParseReply(body)
}

// Ping checks that something answers at {API_URL}/health and returns its status code.
// Any HTTP answer means the backend is reachable.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
