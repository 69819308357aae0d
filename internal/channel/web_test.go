package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aichat/internal/backend"
	"aichat/internal/conversation"

	"github.com/gorilla/websocket"
)

type webHarness struct {
	srv   *httptest.Server
	mu    sync.Mutex
	convs []*conversation.Controller
}

func newWebHarness(t *testing.T, backendHandler http.HandlerFunc) *webHarness {
	t.Helper()
	api := httptest.NewServer(backendHandler)
	t.Cleanup(api.Close)
	client := backend.NewClient(backend.ClientConfig{APIURL: api.URL})

	h := &webHarness{}
	w := NewWeb(WebConfig{
		MetricsEndpoint: "/metrics",
		NewConversation: func(sessionID string) *conversation.Controller {
			c := conversation.New(conversation.Config{Backend: client, SessionID: sessionID})
			h.mu.Lock()
			h.convs = append(h.convs, c)
			h.mu.Unlock()
			return c
		},
	})
	h.srv = httptest.NewServer(w.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *webHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, done func(WSState) bool) WSState {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var st WSState
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read state: %v", err)
		}
		if done(st) {
			return st
		}
	}
}

func TestWeb_InitialStateHasGreeting(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	conn := h.dial(t)

	st := readUntil(t, conn, func(WSState) bool { return true })
	if st.Type != "state" || st.SessionID == "" {
		t.Fatalf("unexpected first frame: %+v", st)
	}
	if len(st.Messages) != 1 || st.Messages[0].Role != "ai" || !strings.Contains(st.Messages[0].HTML, "I am your AI assistant") {
		t.Fatalf("expected greeting, got %+v", st.Messages)
	}
}

func TestWeb_SendTextReply(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"<b>hi</b> there"}`))
	})
	conn := h.dial(t)
	readUntil(t, conn, func(WSState) bool { return true })

	conn.WriteJSON(WSMessage{Type: "send", Text: "hello"})
	st := readUntil(t, conn, func(s WSState) bool { return !s.Loading && len(s.Messages) == 3 })

	if st.Messages[1].Role != "user" || st.Messages[1].HTML != "<span>hello</span>" {
		t.Fatalf("unexpected user bubble: %+v", st.Messages[1])
	}
	if st.Messages[2].HTML != "<span>&lt;b&gt;hi&lt;/b&gt; there</span>" {
		t.Fatalf("reply should be escaped text, got %q", st.Messages[2].HTML)
	}
	if st.Draft != "" || st.Error != "" {
		t.Fatalf("expected cleared draft and no error, got %+v", st)
	}
}

func TestWeb_StructuredReply(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":{"summary":"s","keyPoints":["a"],"nextActions":[]}}`))
	})
	conn := h.dial(t)
	readUntil(t, conn, func(WSState) bool { return true })

	conn.WriteJSON(WSMessage{Type: "send", Text: "go"})
	st := readUntil(t, conn, func(s WSState) bool { return !s.Loading && len(s.Messages) == 3 })

	html := st.Messages[2].HTML
	if !strings.Contains(html, "<strong>Summary</strong>") || !strings.Contains(html, "<li>a</li>") {
		t.Fatalf("unexpected structured html: %s", html)
	}
	if strings.Contains(html, "Next Actions") {
		t.Fatalf("empty section rendered: %s", html)
	}
}

func TestWeb_EmptySendShowsError(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	})
	conn := h.dial(t)
	readUntil(t, conn, func(WSState) bool { return true })

	conn.WriteJSON(WSMessage{Type: "send", Text: "   "})
	st := readUntil(t, conn, func(s WSState) bool { return s.Error != "" })
	if st.Error != conversation.MsgEmptyDraft || len(st.Messages) != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
	if st.Draft != "   " {
		t.Fatalf("rejected draft should be kept, got %q", st.Draft)
	}
}

func TestWeb_EachConnectionHasItsOwnConversation(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"ok"}`))
	})
	a := h.dial(t)
	b := h.dial(t)
	stA := readUntil(t, a, func(WSState) bool { return true })
	stB := readUntil(t, b, func(WSState) bool { return true })
	if stA.SessionID == stB.SessionID {
		t.Fatal("expected distinct sessions")
	}

	a.WriteJSON(WSMessage{Type: "send", Text: "hello"})
	readUntil(t, a, func(s WSState) bool { return !s.Loading && len(s.Messages) == 3 })

	b.WriteJSON(WSMessage{Type: "draft", Text: "typing"})
	b.WriteJSON(WSMessage{Type: "send", Text: ""})
	st := readUntil(t, b, func(s WSState) bool { return s.Error != "" })
	if len(st.Messages) != 1 {
		t.Fatalf("second connection should not see the first one's messages: %+v", st.Messages)
	}
}

func TestWeb_DisconnectClosesConversation(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	conn := h.dial(t)
	readUntil(t, conn, func(WSState) bool { return true })
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		h.mu.Lock()
		c := h.convs[0]
		h.mu.Unlock()
		c.SetDraft("hi")
		if err := c.Send(t.Context()); err == conversation.ErrClosed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("conversation was not closed after disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWeb_DisconnectLetsInFlightRequestFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	outcome := make(chan string, 1)
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
			outcome <- "completed"
			w.Write([]byte(`{"reply":"late"}`))
		case <-r.Context().Done():
			outcome <- "aborted"
		}
	})
	conn := h.dial(t)
	readUntil(t, conn, func(WSState) bool { return true })
	if err := conn.WriteJSON(WSMessage{Type: "send", Text: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("backend was never called")
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		h.mu.Lock()
		c := h.convs[0]
		h.mu.Unlock()
		if err := c.Send(t.Context()); err == conversation.ErrClosed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("conversation was not closed after disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
	// Give a cancelled request time to reach the backend before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case got := <-outcome:
		if got != "completed" {
			t.Fatalf("expected the request to run to completion, got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backend handler never finished")
	}

	h.mu.Lock()
	c := h.convs[0]
	h.mu.Unlock()
	for _, m := range c.Snapshot().Messages {
		if m.Text == "late" {
			t.Fatal("reply after disconnect must be dropped")
		}
	}
}

func TestWeb_IndexAndStatus(t *testing.T) {
	h := newWebHarness(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(h.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected index response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(h.srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	resp, err = http.Get(h.srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestSameOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
	if !sameOrigin(r) {
		t.Fatal("missing Origin should be accepted")
	}
	r.Header.Set("Origin", "http://localhost:8080")
	if !sameOrigin(r) {
		t.Fatal("same origin should be accepted")
	}
	r.Header.Set("Origin", "http://evil.example")
	if sameOrigin(r) {
		t.Fatal("foreign origin should be rejected")
	}
}
