package conversation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength mirrors the backend's message limit.
const DefaultMaxLength = 500

const MsgEmptyDraft = "Please enter a message."

// RejectReason tells why a draft was not sent.
type RejectReason string

const (
	ReasonEmpty   RejectReason = "empty"
	ReasonTooLong RejectReason = "too_long"
)

// ValidationError is returned by Send when the draft fails local checks.
// No request is issued and the draft is left as the user typed it.
type ValidationError struct {
	Reason  RejectReason
	Message string
	Length  int
	Max     int
}

func (e *ValidationError) Error() string { return e.Message }

// isTrimmable reports the characters stripped from both ends of a draft:
// Unicode white space and the byte order mark, but not U+0085.
func isTrimmable(r rune) bool {
	return r == '\uFEFF' || (unicode.IsSpace(r) && r != '\u0085')
}

// validateDraft trims the draft and checks it against maxLen (in characters).
func validateDraft(draft string, maxLen int) (string, *ValidationError) {
	text := strings.TrimFunc(draft, isTrimmable)
	if text == "" {
		return "", &ValidationError{Reason: ReasonEmpty, Message: MsgEmptyDraft, Max: maxLen}
	}
	if n := utf8.RuneCountInString(text); n > maxLen {
		return "", &ValidationError{
			Reason:  ReasonTooLong,
			Message: fmt.Sprintf("Message is too long (max %d characters).", maxLen),
			Length:  n,
			Max:     maxLen,
		}
	}
	return text, nil
}
