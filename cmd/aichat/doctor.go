package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"aichat/internal/audit"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your aichat setup",
		Long: `Verifies that the configuration loads, the audit database is writable
and the chat backend answers. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("aichat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Backend reachable
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			code, err := newBackend(cfg).Ping(ctx)
			switch {
			case err != nil:
				printFail("Backend", fmt.Sprintf("%s unreachable: %v", cfg.Backend.APIURL, err))
				failed++
			case code >= 400:
				printWarn("Backend", fmt.Sprintf("%s answered /health with %d", cfg.Backend.APIURL, code))
				warned++
			default:
				printPass("Backend", cfg.Backend.APIURL)
				passed++
			}

			// 4. Audit database writable
			if cfg.Audit.Enabled {
				if err := checkAudit(ctx, cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", cfg.Audit.DBPath)
					passed++
				}
			} else {
				printWarn("Audit database", "disabled, `aichat stats` will have nothing to show")
				warned++
			}

			// 5. Web port
			if err := checkPort(cfg.Web.Host, cfg.Web.Port); err != nil {
				printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Web.Port, err))
				warned++
			} else {
				printPass("Web port", fmt.Sprintf(":%d available", cfg.Web.Port))
				passed++
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				if err := checkLogFile(cfg.General.LogFile); err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before chatting.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\naichat should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'aichat chat' to start.\n")
			}
			return nil
		},
	}
}

func checkAudit(ctx context.Context, dbPath string) error {
	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func checkLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return f.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
