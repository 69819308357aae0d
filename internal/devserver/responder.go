package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/sashabaranov/go-openai"
)

// Responder produces the value placed in the "reply" field: a string or a
// structuredReply.
type Responder interface {
	Respond(ctx context.Context, message string) (any, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, message string) (any, error)

func (f ResponderFunc) Respond(ctx context.Context, message string) (any, error) {
	return f(ctx, message)
}

// structuredReply is the wire shape of a structured answer.
type structuredReply struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	NextActions []string `json:"nextActions"`
}

// StatusError makes the server answer with a specific status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string { return fmt.Sprintf("status %d: %s", e.Code, e.Message) }

// statusDirective lets a client ask for a given failure, e.g. "!status 503".
func statusDirective(message string) *StatusError {
	rest, ok := strings.CutPrefix(message, "!status ")
	if !ok {
		return nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || code < 400 || code > 599 {
		return nil
	}
	return &StatusError{Code: code, Message: fmt.Sprintf("Simulated failure with status %d.", code)}
}

// EchoResponder replies with the message as plain text.
func EchoResponder() Responder {
	return ResponderFunc(func(_ context.Context, message string) (any, error) {
		return "You said: " + message, nil
	})
}

// StructuredResponder splits the message into sentences and returns them as
// key points, with a short summary and canned next actions.
func StructuredResponder() Responder {
	return ResponderFunc(func(_ context.Context, message string) (any, error) {
		points := splitSentences(message)
		next := []string{"Ask a follow-up question"}
		if strings.HasSuffix(message, "?") {
			next = append(next, "Rephrase the question with more detail")
		}
		return structuredReply{
			Summary:     fmt.Sprintf("Your message has %d sentence(s).", len(points)),
			KeyPoints:   points,
			NextActions: next,
		}, nil
	})
}

func splitSentences(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsSpace)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

const structuredSystemPrompt = `You are a helpful assistant. Answer the user's message as a single JSON object with exactly these keys:
"summary": a one or two sentence answer,
"keyPoints": an array of short strings,
"nextActions": an array of short suggested follow-ups.
Output ONLY the JSON object.`

// OpenAIConfig configures the OpenAI-backed responder.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	APIBase string // optional, for OpenAI-compatible servers
}

type openAIResponder struct {
	client *openai.Client
	model  string
}

// NewOpenAIResponder asks the model for the structured JSON shape and falls
// back to a text reply when the answer is not valid JSON.
func NewOpenAIResponder(cfg OpenAIConfig) (Responder, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai responder: model is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	}
	return &openAIResponder{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

func (o *openAIResponder) Respond(ctx context.Context, message string) (any, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: structuredSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
			return nil, &StatusError{Code: 429, Message: "The model is rate limited. Please wait a moment and try again."}
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: no choices")
	}
	raw := resp.Choices[0].Message.Content
	if sr, ok := parseStructured(raw); ok {
		return sr, nil
	}
	return strings.TrimSpace(raw), nil
}

// parseStructured extracts the first {...} block of raw and decodes it. At
// least one known key must be present.
func parseStructured(raw string) (map[string]any, bool) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw[first:last+1]), &m); err != nil {
		return nil, false
	}
	for _, k := range []string{"summary", "keyPoints", "nextActions"} {
		if _, ok := m[k]; ok {
			return m, true
		}
	}
	return nil, false
}

// NewResponder builds the responder named by kind.
func NewResponder(kind string, oc OpenAIConfig) (Responder, error) {
	switch kind {
	case "", "structured":
		return StructuredResponder(), nil
	case "echo":
		return EchoResponder(), nil
	case "openai":
		return NewOpenAIResponder(oc)
	default:
		return nil, fmt.Errorf("unknown responder %q", kind)
	}
}
