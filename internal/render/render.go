// Package render turns AI replies into presentable sections. Sections is the
// pure core; Text, Markdown and the web templates are thin formatters over it.
package render

import (
	"strings"

	"aichat/internal/domain"
)

// SectionKind identifies one block of a structured reply.
type SectionKind string

const (
	SectionSummary     SectionKind = "summary"
	SectionKeyPoints   SectionKind = "keyPoints"
	SectionNextActions SectionKind = "nextActions"
)

// Section is a titled block: summary sections carry Text, list sections carry Items.
type Section struct {
	Kind  SectionKind
	Title string
	Text  string
	Items []string
}

// Sections returns the blocks to show for r, in fixed order, skipping any whose
// data is absent or empty. A nil reply yields no sections.
func Sections(r *domain.StructuredReply) []Section {
	if r == nil {
		return nil
	}
	var out []Section
	if r.Summary != "" {
		out = append(out, Section{Kind: SectionSummary, Title: "Summary", Text: r.Summary})
	}
	if len(r.KeyPoints) > 0 {
		out = append(out, Section{Kind: SectionKeyPoints, Title: "Key Points", Items: append([]string{}, r.KeyPoints...)})
	}
	if len(r.NextActions) > 0 {
		out = append(out, Section{Kind: SectionNextActions, Title: "Next Actions", Items: append([]string{}, r.NextActions...)})
	}
	return out
}

// Text renders r as plain text for line-oriented terminals.
func Text(r *domain.StructuredReply) string {
	var b strings.Builder
	for i, s := range Sections(r) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Title)
		b.WriteString("\n")
		if s.Kind == SectionSummary {
			b.WriteString(s.Text)
			b.WriteString("\n")
			continue
		}
		for _, item := range s.Items {
			b.WriteString("  • ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Markdown renders r as Markdown.
func Markdown(r *domain.StructuredReply) string {
	var b strings.Builder
	for i, s := range Sections(r) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("**")
		b.WriteString(s.Title)
		b.WriteString("**\n\n")
		if s.Kind == SectionSummary {
			b.WriteString(s.Text)
			b.WriteString("\n")
			continue
		}
		for _, item := range s.Items {
			b.WriteString("- ")
			b.WriteString(escapeListItem(item))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Message renders any conversation message as plain text.
func Message(m domain.Message) string {
	if m.IsStructured() {
		return strings.TrimRight(Text(m.Data), "\n")
	}
	return m.Text
}

// escapeListItem keeps multi-line items inside their bullet.
func escapeListItem(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
