package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aichat/internal/devserver"

	"github.com/spf13/cobra"
)

func devserverCmd() *cobra.Command {
	var (
		port      int
		responder string
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a stand-in chat backend for local development",
		Long: `Serves POST /chat with the same contract as the real backend: 400 for
invalid or empty input, 413 for over-long messages, 429 when rate limited and
500 when the responder fails. Send "!status NNN" to get any 4xx/5xx back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ds := cfg.DevServer
			if cmd.Flags().Changed("port") {
				ds.Port = port
			}
			if cmd.Flags().Changed("responder") {
				ds.Responder = responder
			}
			closeLog, err := setupLogger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()

			resp, err := devserver.NewResponder(ds.Responder, devserver.OpenAIConfig{
				APIKey:  ds.OpenAI.APIKey,
				Model:   ds.OpenAI.Model,
				APIBase: ds.OpenAI.APIBase,
			})
			if err != nil {
				return fmt.Errorf("responder: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := devserver.New(devserver.Config{
				Host:               ds.Host,
				Port:               ds.Port,
				AllowedOrigins:     ds.AllowedOrigins,
				MaxMessageLength:   ds.MaxMessageLength,
				RateLimitPerMinute: ds.RateLimitPerMinute,
				Burst:              ds.Burst,
				Responder:          resp,
				MetricsEndpoint:    metricsEndpoint(cfg),
				Logger:             logger,
			})
			logger.Info("dev backend starting, press Ctrl+C to stop", "responder", ds.Responder)
			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from devserver.port)")
	cmd.Flags().StringVar(&responder, "responder", "", "echo, structured or openai (default from devserver.responder)")
	return cmd
}
