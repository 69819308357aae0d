package domain

import (
	"context"
	"time"
)

// SendOutcome classifies how a send attempt ended.
type SendOutcome string

const (
	OutcomeSucceeded      SendOutcome = "succeeded"
	OutcomeRejected       SendOutcome = "rejected"
	OutcomeHTTPError      SendOutcome = "http_error"
	OutcomeTransportError SendOutcome = "transport_error"
	OutcomeMalformed      SendOutcome = "malformed_response"
)

// SendRecord describes one send attempt. It never holds message text.
type SendRecord struct {
	ID            int64       `json:"id"`
	SessionID     string      `json:"session_id"`
	Outcome       SendOutcome `json:"outcome"`
	Reason        string      `json:"reason,omitempty"` // validation reason for rejected sends
	StatusCode    int         `json:"status_code,omitempty"`
	ReplyKind     ReplyKind   `json:"reply_kind,omitempty"`
	MessageLength int         `json:"message_length"`
	LatencyMs     int64       `json:"latency_ms"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SendRecorder receives send outcomes (audit log, tests).
type SendRecorder interface {
	RecordSend(ctx context.Context, rec SendRecord) error
}
