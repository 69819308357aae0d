package domain

import "context"

// ReplyKind tags the variant held by a Reply.
type ReplyKind string

const (
	ReplyText       ReplyKind = "text"
	ReplyStructured ReplyKind = "structured"
)

// Reply is a classified backend reply: either plain text or a StructuredReply.
type Reply struct {
	Kind       ReplyKind
	Text       string
	Structured *StructuredReply
}

// TextReply builds the Text variant.
func TextReply(s string) Reply {
	return Reply{Kind: ReplyText, Text: s}
}

// StructuredReplyOf builds the Structured variant.
func StructuredReplyOf(s *StructuredReply) Reply {
	return Reply{Kind: ReplyStructured, Structured: s}
}

// Message turns the reply into the AI message appended to a conversation.
func (r Reply) Message() Message {
	if r.Kind == ReplyStructured && r.Structured != nil {
		return Message{Role: RoleAI, Data: r.Structured}
	}
	return Message{Role: RoleAI, Text: r.Text}
}

// Backend sends one user message to the assistant endpoint and returns its reply.
type Backend interface {
	Chat(ctx context.Context, message string) (Reply, error)
}
