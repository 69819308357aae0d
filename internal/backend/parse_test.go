package backend

import (
	"errors"
	"math"
	"testing"

	"aichat/internal/domain"
)

func TestParseReply_Text(t *testing.T) {
	reply, err := ParseReply([]byte(`{"reply":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != domain.ReplyText || reply.Text != "hello" {
		t.Fatalf("expected text 'hello', got %+v", reply)
	}
}

func TestParseReply_AbsentOrNull(t *testing.T) {
	for _, body := range []string{`{}`, `{"reply":null}`, `[]`, `"just a string"`} {
		reply, err := ParseReply([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", body, err)
		}
		if reply.Kind != domain.ReplyText || reply.Text != NoReplyText {
			t.Fatalf("%s: expected fallback text, got %+v", body, reply)
		}
	}
}

func TestParseReply_InvalidJSON(t *testing.T) {
	_, err := ParseReply([]byte("not json"))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClassifyReply_StructuredNeedsOneKnownKey(t *testing.T) {
	reply := ClassifyReply(map[string]any{"summary": nil})
	if reply.Kind != domain.ReplyStructured {
		t.Fatalf("key present with null value should still be structured, got %+v", reply)
	}
	if reply.Structured.Summary != "" || reply.Structured.KeyPoints != nil {
		t.Fatalf("expected empty structured reply, got %+v", reply.Structured)
	}

	reply = ClassifyReply(map[string]any{"other": "x"})
	if reply.Kind != domain.ReplyText || reply.Text != "[object Object]" {
		t.Fatalf("object without known keys should coerce to text, got %+v", reply)
	}
}

func TestClassifyReply_ArrayIsText(t *testing.T) {
	reply := ClassifyReply([]any{"a", float64(1), nil, true})
	if reply.Kind != domain.ReplyText {
		t.Fatalf("arrays are never structured, got %+v", reply)
	}
	if reply.Text != "a,1,,true" {
		t.Fatalf("expected JS-style join, got %q", reply.Text)
	}
}

func TestClassifyReply_Scalars(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(42), "42"},
		{1.5, "1.5"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
		{math.Copysign(0, -1), "0"},
		{-2.5, "-2.5"},
		{false, "false"},
		{"", ""},
	}
	for _, tc := range tests {
		reply := ClassifyReply(tc.in)
		if reply.Text != tc.want {
			t.Errorf("ClassifyReply(%v): expected %q, got %q", tc.in, tc.want, reply.Text)
		}
	}
}

func TestClassifyReply_WrongFieldTypesAreDropped(t *testing.T) {
	reply := ClassifyReply(map[string]any{
		"summary":     float64(3),
		"keyPoints":   "not a list",
		"nextActions": []any{"go", float64(2)},
	})
	s := reply.Structured
	if s.Summary != "" {
		t.Fatalf("non-string summary should be dropped, got %q", s.Summary)
	}
	if s.KeyPoints != nil {
		t.Fatalf("non-array keyPoints should be dropped, got %#v", s.KeyPoints)
	}
	if len(s.NextActions) != 2 || s.NextActions[1] != "2" {
		t.Fatalf("expected coerced next actions, got %#v", s.NextActions)
	}
}
