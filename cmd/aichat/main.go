package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"aichat/internal/audit"
	"aichat/internal/backend"
	"aichat/internal/config"
	"aichat/internal/conversation"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	apiURL     string // overridable via --api-url flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aichat",
		Short:        "aichat: terminal and browser client for a chat backend",
		Long:         "aichat sends messages to a chat backend (POST {API_URL}/chat) and renders plain or structured replies in a TUI, a REPL or a local web page.",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.aichat/config.json)")
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend base URL, overrides backend.apiUrl")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(webCmd())
	root.AddCommand(devserverCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(configCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file (or the defaults when there is none) and
// applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiURL != "" {
		cfg.Backend.APIURL = apiURL
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setupLogger points the package logger at general.logFile, or at stderr.
// With quiet set and no log file, output is discarded. The returned func
// closes the log file.
func setupLogger(cfg *config.Config, quiet bool) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	switch {
	case cfg.General.LogFile != "":
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	case quiet:
		out = io.Discard
	}
	logger = slog.New(slog.NewTextHandler(out, opts))
	return closeFn, nil
}

func newBackend(cfg *config.Config) *backend.Client {
	return backend.NewClient(backend.ClientConfig{
		APIURL:  cfg.Backend.APIURL,
		Timeout: time.Duration(cfg.Backend.RequestTimeoutSeconds) * time.Second,
		Logger:  logger,
	})
}

// openAudit opens the send log when it is enabled. A nil store is valid and
// records nothing.
func openAudit(cfg *config.Config) (*audit.SQLiteStore, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	return store, nil
}

// conversationFactory builds controllers sharing one backend and audit store.
func conversationFactory(cfg *config.Config, client *backend.Client, store *audit.SQLiteStore) func(sessionID string) *conversation.Controller {
	return func(sessionID string) *conversation.Controller {
		c := conversation.Config{
			Backend:   client,
			Greeting:  cfg.Chat.Greeting,
			MaxLength: cfg.Chat.MaxMessageLength,
			SessionID: sessionID,
			Logger:    logger,
		}
		if store != nil {
			c.Recorder = store
		}
		return conversation.New(c)
	}
}

func metricsEndpoint(cfg *config.Config) string {
	if !cfg.Metrics.Enabled {
		return ""
	}
	return cfg.Metrics.Endpoint
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Template()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.apiUrl)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. backend.requestTimeoutSeconds 30)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), config.ListPaths(config.Sanitize(cfg)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// shutdown waits for stop to finish, up to timeout.
func shutdown(stop func(), timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stop()
	}()
	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}
