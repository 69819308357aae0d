// Package tui is the full-screen terminal front-end.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aichat/internal/bus"
	"aichat/internal/conversation"
	"aichat/internal/domain"
	"aichat/internal/render"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

type (
	// eventMsg wakes the model after the conversation changed.
	eventMsg bus.Event
	// sendDoneMsg reports that a Send call returned.
	sendDoneMsg struct{ err error }
)

type Model struct {
	ctx         context.Context
	conv        *conversation.Controller
	events      <-chan bus.Event
	unsubscribe func()

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	state    conversation.State
	width    int
	height   int
	ready    bool
	quitting bool
}

func NewModel(ctx context.Context, conv *conversation.Controller) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message…"
	ti.Prompt = "› "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	events, unsubscribe := conv.Events().Subscribe(32)
	return Model{
		ctx:         ctx,
		conv:        conv,
		events:      events,
		unsubscribe: unsubscribe,
		input:       ti,
		spinner:     sp,
		state:       conv.Snapshot(),
		width:       80,
		height:      24,
	}
}

func waitForEvent(ch <-chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m Model) send() tea.Cmd {
	conv, ctx := m.conv, m.ctx
	return func() tea.Msg {
		return sendDoneMsg{err: conv.Send(ctx)}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForEvent(m.events),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.conv.Close()
			m.unsubscribe()
			return m, tea.Quit
		case tea.KeyEnter:
			m.conv.SetDraft(m.input.Value())
			return m, m.send()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.conv.SetDraft(m.input.Value())
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case eventMsg:
		m.refresh()
		return m, waitForEvent(m.events)

	case sendDoneMsg:
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// layout sizes the viewport and markdown renderer to the window.
func (m *Model) layout() {
	const chrome = 7 // title, typing/error line, bordered input, help
	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	m.input.Width = m.width - 8

	wrap := m.width - 6
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrap))
	if err == nil {
		m.renderer = r
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// refresh pulls a fresh snapshot and syncs the input with the draft, which
// the controller clears after a successful send.
func (m *Model) refresh() {
	m.state = m.conv.Snapshot()
	if m.state.Draft != m.input.Value() {
		m.input.SetValue(m.state.Draft)
		m.input.CursorEnd()
	}
	if m.ready {
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
	}
}

func (m Model) renderHistory() string {
	var b strings.Builder
	for i, msg := range m.state.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if msg.Role == domain.RoleUser {
			b.WriteString(userRoleStyle.Render("You"))
		} else {
			b.WriteString(aiRoleStyle.Render("AI"))
		}
		b.WriteString("\n")
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg domain.Message) string {
	if msg.IsStructured() && m.renderer != nil {
		out, err := m.renderer.Render(render.Markdown(msg.Data))
		if err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return messageStyle.Width(m.width - 2).Render(render.Message(msg))
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("AI Chat") + "\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.renderHistory())
	}
	b.WriteString("\n")

	switch {
	case m.state.Loading:
		b.WriteString(typingStyle.Render(m.spinner.View() + " Typing…"))
	case m.state.Error != "":
		b.WriteString(errorStyle.Render(m.state.Error))
	}
	b.WriteString("\n")
	b.WriteString(inputStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("  Enter: send  PgUp/PgDn: scroll  Esc: quit  (max %d characters)", m.conv.MaxLength())))
	return b.String()
}

// App runs the Model as a domain.Channel.
type App struct {
	conv    *conversation.Controller
	options []tea.ProgramOption
	program *tea.Program
}

var _ domain.Channel = (*App)(nil)

func NewApp(conv *conversation.Controller, opts ...tea.ProgramOption) *App {
	return &App{conv: conv, options: opts}
}

func (a *App) Name() string { return "tui" }

// Start blocks until the user quits or ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, a.options...)
	a.program = tea.NewProgram(NewModel(ctx, a.conv), opts...)
	_, err := a.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) Stop() error {
	a.conv.Close()
	if a.program != nil {
		a.program.Quit()
	}
	return nil
}
