package render

import (
	"bytes"
	"html/template"

	"aichat/internal/domain"
)

var replyTmpl = template.Must(template.New("reply").Parse(
	`<div class="ai-response">` +
		`{{range .}}<strong>{{.Title}}</strong>` +
		`{{if .Items}}<ul class="{{.Kind}}">{{range .Items}}<li>{{.}}</li>{{end}}</ul>` +
		`{{else}}<p class="{{.Kind}}">{{.Text}}</p>{{end}}` +
		`{{end}}</div>`))

// HTML renders r as an escaped HTML fragment. A reply with no sections renders
// an empty container.
func HTML(r *domain.StructuredReply) (template.HTML, error) {
	var buf bytes.Buffer
	if err := replyTmpl.Execute(&buf, Sections(r)); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// MessageHTML renders the body of one message bubble.
func MessageHTML(m domain.Message) (template.HTML, error) {
	if m.IsStructured() {
		return HTML(m.Data)
	}
	return template.HTML("<span>" + template.HTMLEscapeString(m.Text) + "</span>"), nil
}
