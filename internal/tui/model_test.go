package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aichat/internal/backend"
	"aichat/internal/conversation"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) (Model, *conversation.Controller) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conv := conversation.New(conversation.Config{
		Backend: backend.NewClient(backend.ClientConfig{APIURL: srv.URL}),
	})
	m := NewModel(context.Background(), conv)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model), conv
}

func typeText(m Model, s string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(Model)
}

// submit presses Enter and runs the resulting send command to completion.
func submit(t *testing.T, m Model) Model {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a send command")
	}
	msg := cmd()
	if _, ok := msg.(sendDoneMsg); !ok {
		t.Fatalf("expected sendDoneMsg, got %T", msg)
	}
	next, _ = next.Update(msg)
	return next.(Model)
}

func TestModel_ShowsGreeting(t *testing.T) {
	m, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {})
	if !strings.Contains(m.View(), "I am your AI assistant") {
		t.Fatalf("expected greeting in view:\n%s", m.View())
	}
}

func TestModel_TypingUpdatesDraft(t *testing.T) {
	m, conv := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {})
	typeText(m, "hello")
	if conv.Draft() != "hello" {
		t.Fatalf("expected draft 'hello', got %q", conv.Draft())
	}
}

func TestModel_SendTextReply(t *testing.T) {
	m, conv := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"hello back"}`))
	})
	m = typeText(m, "hi")
	m = submit(t, m)

	if m.input.Value() != "" {
		t.Fatalf("expected input cleared, got %q", m.input.Value())
	}
	if !strings.Contains(m.View(), "hello back") {
		t.Fatalf("expected reply in view:\n%s", m.View())
	}
	if n := len(conv.Snapshot().Messages); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestModel_StructuredReplyRendersSections(t *testing.T) {
	m, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":{"summary":"short answer","keyPoints":["alpha","beta"],"nextActions":[]}}`))
	})
	m = typeText(m, "hi")
	m = submit(t, m)

	view := m.View()
	for _, want := range []string{"Summary", "short answer", "Key Points", "alpha", "beta"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Next Actions") {
		t.Fatalf("empty section rendered:\n%s", view)
	}
}

func TestModel_RejectedDraftStaysInInput(t *testing.T) {
	m, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	})
	m = typeText(m, "   ")
	m = submit(t, m)

	if m.input.Value() != "   " {
		t.Fatalf("rejected draft should remain, got %q", m.input.Value())
	}
	if !strings.Contains(m.View(), conversation.MsgEmptyDraft) {
		t.Fatalf("expected validation error in view:\n%s", m.View())
	}
}

func TestModel_FailureShowsWarning(t *testing.T) {
	m, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	m = typeText(m, "hi")
	m = submit(t, m)

	view := m.View()
	if !strings.Contains(view, backend.MsgTooManyRequest) {
		t.Fatalf("expected friendly error in view:\n%s", view)
	}
}

func TestModel_EscClosesConversation(t *testing.T) {
	m, conv := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.(Model).View() != "" {
		t.Fatal("expected empty view after quit")
	}
	conv.SetDraft("hi")
	if err := conv.Send(context.Background()); err != conversation.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
