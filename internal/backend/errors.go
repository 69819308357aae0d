package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// User-facing messages shown inline and appended to the conversation.
const (
	MsgInvalidInput   = "Invalid input. Please check your message and try again."
	MsgTooLong        = "Message is too long. Please shorten it and try again."
	MsgTooManyRequest = "Too many requests. Please wait a moment and try again."
	MsgServerError    = "Server error. Please try again in a moment."
	MsgGeneric        = "Something went wrong. Please try again."
	MsgNetwork        = "Network error: could not reach the backend."
)

// ErrMalformedResponse is returned when a 2xx body is not valid JSON.
var ErrMalformedResponse = errors.New("malformed response body")

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode    int
	ServerMessage string // human-readable message from the JSON error body, if any
}

func (e *HTTPError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("backend HTTP %d: %s", e.StatusCode, e.ServerMessage)
	}
	return fmt.Sprintf("backend HTTP %d", e.StatusCode)
}

// FriendlyMessage prefers the server's message and falls back to the status class.
func (e *HTTPError) FriendlyMessage() string {
	if e.ServerMessage != "" {
		return e.ServerMessage
	}
	return StatusMessage(e.StatusCode)
}

// TransportError means no response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusMessage maps an HTTP status to its fallback friendly text.
func StatusMessage(code int) string {
	switch {
	case code == http.StatusBadRequest:
		return MsgInvalidInput
	case code == http.StatusRequestEntityTooLarge:
		return MsgTooLong
	case code == http.StatusTooManyRequests:
		return MsgTooManyRequest
	case code >= 500:
		return MsgServerError
	default:
		return MsgGeneric
	}
}

// FriendlyMessage turns any error returned by Client.Chat into user-facing text.
func FriendlyMessage(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.FriendlyMessage()
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return MsgNetwork
	}
	return MsgGeneric
}

// parseErrorBody extracts a message from {"error":{"message":...}}, {"error":"..."}
// or {"message":"..."}. Anything else yields "".
func parseErrorBody(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Error) > 0 {
		var detail struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &detail); err == nil {
			if msg := rawString(detail.Message); msg != "" {
				return msg
			}
		}
		if msg := rawString(payload.Error); msg != "" {
			return msg
		}
	}
	return rawString(payload.Message)
}

// rawString returns the trimmed text of a JSON string value, or "" for any
// other JSON type.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
