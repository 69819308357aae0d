package domain

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message is one entry of a conversation. User messages always carry Text;
// AI messages carry either Text or Data, never both.
type Message struct {
	Role Role             `json:"role"`
	Text string           `json:"text,omitempty"`
	Data *StructuredReply `json:"data,omitempty"`
}

// IsStructured reports whether the message carries a structured AI reply.
func (m Message) IsStructured() bool {
	return m.Role == RoleAI && m.Data != nil
}

// StructuredReply is an AI response split into summary, key points and next actions.
// A nil slice means the key was absent; an empty slice means it was sent empty.
type StructuredReply struct {
	Summary     string   `json:"summary,omitempty"`
	KeyPoints   []string `json:"keyPoints,omitempty"`
	NextActions []string `json:"nextActions,omitempty"`
}

// Clone returns a deep copy so callers can hold snapshots without sharing slices.
func (s *StructuredReply) Clone() *StructuredReply {
	if s == nil {
		return nil
	}
	out := &StructuredReply{Summary: s.Summary}
	if s.KeyPoints != nil {
		out.KeyPoints = append([]string{}, s.KeyPoints...)
	}
	if s.NextActions != nil {
		out.NextActions = append([]string{}, s.NextActions...)
	}
	return out
}
