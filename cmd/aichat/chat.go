package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aichat/internal/channel"
	"aichat/internal/conversation"
	"aichat/internal/domain"
	"aichat/internal/render"
	"aichat/internal/tui"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  "Opens the full-screen chat UI. With --plain, falls back to a line-oriented prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "use the line-oriented prompt instead of the full-screen UI")
	return cmd
}

func runChat(plain bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg, !plain)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openAudit(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	conv := conversationFactory(cfg, newBackend(cfg), store)("")
	logger.Info("chat session started", "session", conv.SessionID(), "api_url", cfg.Backend.APIURL)

	var ch domain.Channel
	if plain {
		ch = channel.NewCLI(channel.CLIConfig{Conversation: conv, Logger: logger, Spinner: true})
	} else {
		ch = tui.NewApp(conv)
	}
	defer ch.Stop()
	return ch.Start(ctx)
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the reply",
		Long:  "Sends the arguments, joined by spaces, as one message and prints the reply. Exits non-zero when the message is rejected or the request fails.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openAudit(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			conv := conversationFactory(cfg, newBackend(cfg), store)("")
			defer conv.Close()
			conv.SetDraft(strings.Join(args, " "))

			sendErr := conv.Send(ctx)
			var verr *conversation.ValidationError
			if errors.As(sendErr, &verr) {
				return verr
			}

			// The greeting is always first, so a completed send leaves the
			// reply (or the failure notice) last.
			state := conv.Snapshot()
			if n := len(state.Messages); n > 1 {
				fmt.Fprintln(cmd.OutOrStdout(), render.Message(state.Messages[n-1]))
			}
			if sendErr != nil {
				return errors.New(state.Error)
			}
			return nil
		},
	}
}

func webCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the chat UI in the browser",
		Long:  "Starts a local web server; every browser tab gets its own conversation. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Web.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Web.Port = port
			}
			closeLog, err := setupLogger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openAudit(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			webCh := channel.NewWeb(channel.WebConfig{
				Host:            cfg.Web.Host,
				Port:            cfg.Web.Port,
				NewConversation: conversationFactory(cfg, newBackend(cfg), store),
				MetricsEndpoint: metricsEndpoint(cfg),
				Logger:          logger,
			})
			logger.Info("web UI starting, press Ctrl+C to stop", "api_url", cfg.Backend.APIURL)
			if err := webCh.Start(ctx); err != nil {
				return fmt.Errorf("web channel: %w", err)
			}
			logger.Info("shutting down web UI...")
			return shutdown(func() { webCh.Stop() }, 10*time.Second)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from web.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from web.port)")
	return cmd
}
