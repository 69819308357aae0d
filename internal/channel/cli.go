package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"aichat/internal/conversation"
	"aichat/internal/domain"
	"aichat/internal/render"
)

const cliPrompt = "You> "

// CLI is a line-oriented chat front-end over one conversation controller.
type CLI struct {
	conv    *conversation.Controller
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner bool
	shown   int // messages already printed

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

var _ domain.Channel = (*CLI)(nil)

type CLIConfig struct {
	Conversation *conversation.Controller
	Logger       *slog.Logger
	In           io.Reader
	Out          io.Writer
	Spinner      bool // animate "Typing…" while a request is in flight
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CLI{
		conv:    cfg.Conversation,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx cancellation.
func (c *CLI) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_, _ = fmt.Fprintln(c.out, "aichat. Type your message and press Enter. Type /quit to exit.")
	c.printNew()
	_, _ = fmt.Fprint(c.out, cliPrompt)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err // nil on EOF
		case line = <-lines:
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		case "/help":
			_, _ = fmt.Fprintf(c.out, "Messages up to %d characters. Commands: /help, /quit\n", c.conv.MaxLength())
			_, _ = fmt.Fprint(c.out, cliPrompt)
			continue
		}

		c.conv.SetDraft(line)
		c.startThinking()
		err := c.conv.Send(ctx)
		c.stopThinking()

		var verr *conversation.ValidationError
		switch {
		case errors.As(err, &verr):
			_, _ = fmt.Fprintln(c.out, "! "+verr.Message)
		case errors.Is(err, conversation.ErrClosed):
			return nil
		}
		c.printNew()
		_, _ = fmt.Fprint(c.out, cliPrompt)
	}
}

// printNew writes the AI messages appended since the last call. User messages
// are already on screen as typed input.
func (c *CLI) printNew() {
	msgs := c.conv.Snapshot().Messages
	for _, m := range msgs[c.shown:] {
		if m.Role != domain.RoleAI {
			continue
		}
		text := render.Message(m)
		if m.IsStructured() {
			_, _ = fmt.Fprintln(c.out, "AI>")
			_, _ = fmt.Fprintln(c.out, text)
			continue
		}
		_, _ = fmt.Fprintln(c.out, "AI> "+text)
	}
	c.shown = len(msgs)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Typing…", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	if !c.thinking {
		c.thinkMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.thinkMu.Unlock()
	<-done
}

// Stop tears down the conversation; a reply still in flight is dropped.
func (c *CLI) Stop() error {
	c.conv.Close()
	return nil
}
