package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aichat/internal/backend"
	"aichat/internal/domain"
)

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %q", rec.Body.String())
	}
	return resp.Error.Message
}

func TestChat_EchoReply(t *testing.T) {
	s := New(Config{Responder: EchoResponder()})
	rec := postChat(t, s.Handler(), `{"message":"  hello  "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["reply"] != "You said: hello" {
		t.Fatalf("unexpected reply: %v", resp)
	}
}

func TestChat_StructuredReply(t *testing.T) {
	s := New(Config{})
	rec := postChat(t, s.Handler(), `{"message":"First point. Second point!"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	reply, err := backend.ParseReply(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.Kind != domain.ReplyStructured {
		t.Fatalf("expected structured reply, got %+v", reply)
	}
	if got := reply.Structured.KeyPoints; len(got) != 2 || got[0] != "First point" || got[1] != "Second point" {
		t.Fatalf("unexpected key points: %v", got)
	}
}

func TestChat_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"message":`, http.StatusBadRequest},
		{"missing message", `{}`, http.StatusBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest},
		{"wrong type", `{"message":5}`, http.StatusBadRequest},
		{"too long", `{"message":"` + strings.Repeat("é", 21) + `"}`, http.StatusRequestEntityTooLarge},
		{"simulated", `{"message":"!status 503"}`, http.StatusServiceUnavailable},
	}
	s := New(Config{MaxMessageLength: 20})
	for _, tc := range tests {
		rec := postChat(t, s.Handler(), tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
			continue
		}
		if errorMessage(t, rec) == "" {
			t.Errorf("%s: expected error message", tc.name)
		}
	}
}

func TestChat_LengthCountsCharacters(t *testing.T) {
	s := New(Config{MaxMessageLength: 10})
	rec := postChat(t, s.Handler(), `{"message":"`+strings.Repeat("é", 10)+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("10 two-byte characters should fit, got %d", rec.Code)
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	s := New(Config{})
	rec := postChat(t, s.Handler(), `{"message":"`+strings.Repeat("a", maxBodySize)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestChat_RateLimited(t *testing.T) {
	s := New(Config{RateLimitPerMinute: 1, Burst: 2, Responder: EchoResponder()})
	for i := 0; i < 2; i++ {
		if rec := postChat(t, s.Handler(), `{"message":"hi"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := postChat(t, s.Handler(), `{"message":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if msg := errorMessage(t, rec); msg != backend.MsgTooManyRequest {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestChat_ResponderFailures(t *testing.T) {
	cases := map[string]Responder{
		"error": ResponderFunc(func(context.Context, string) (any, error) { return nil, errors.New("boom") }),
		"panic": ResponderFunc(func(context.Context, string) (any, error) { panic("boom") }),
	}
	for name, r := range cases {
		s := New(Config{Responder: r})
		rec := postChat(t, s.Handler(), `{"message":"hi"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rec.Code)
		}
		if errorMessage(t, rec) == "" {
			t.Fatalf("%s: expected error message", name)
		}
	}
}

func TestChat_ResponderStatusError(t *testing.T) {
	s := New(Config{Responder: ResponderFunc(func(context.Context, string) (any, error) {
		return nil, &StatusError{Code: 429, Message: "slow down"}
	})})
	rec := postChat(t, s.Handler(), `{"message":"hi"}`)
	if rec.Code != 429 || errorMessage(t, rec) != "slow down" {
		t.Fatalf("expected 429 'slow down', got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := New(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"http://localhost:*"}})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected origin to be allowed, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Config{MetricsEndpoint: "/metrics"})
	postChat(t, s.Handler(), `{"message":"hi"}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "aichat_devserver_requests_total") {
		t.Fatalf("expected devserver counter in metrics output:\n%s", rec.Body.String())
	}
}

// End to end: the real client against the dev server.
func TestClientAgainstDevServer(t *testing.T) {
	srv := httptest.NewServer(New(Config{MaxMessageLength: 5, Responder: EchoResponder()}).Handler())
	defer srv.Close()
	c := backend.NewClient(backend.ClientConfig{APIURL: srv.URL})

	reply, err := c.Chat(context.Background(), "hey")
	if err != nil || reply.Text != "You said: hey" {
		t.Fatalf("unexpected reply %+v err %v", reply, err)
	}

	_, err = c.Chat(context.Background(), "too long for five")
	var httpErr *backend.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 HTTPError, got %v", err)
	}
}
