// Package audit keeps a local SQLite log of send outcomes: when a message was
// sent, how it ended and how long it took. Message and reply text are never
// written.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"aichat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SendRecorder using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.SendRecorder = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// RecordSend appends one outcome row.
func (s *SQLiteStore) RecordSend(ctx context.Context, rec domain.SendRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_log (session_id, outcome, reason, status_code, reply_kind, message_length, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Outcome), rec.Reason, rec.StatusCode, string(rec.ReplyKind),
		rec.MessageLength, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert send record: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]domain.SendRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, outcome, reason, status_code, reply_kind, message_length, latency_ms, created_at
		 FROM send_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SendRecord
	for rows.Next() {
		var (
			rec           domain.SendRecord
			outcome, kind string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &outcome, &rec.Reason, &rec.StatusCode,
			&kind, &rec.MessageLength, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Outcome = domain.SendOutcome(outcome)
		rec.ReplyKind = domain.ReplyKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OutcomeCount aggregates records sharing an outcome.
type OutcomeCount struct {
	Outcome      domain.SendOutcome `json:"outcome"`
	Count        int64              `json:"count"`
	AvgLatencyMs float64            `json:"avg_latency_ms"`
}

// Summary counts records per outcome, most frequent first.
func (s *SQLiteStore) Summary(ctx context.Context) ([]OutcomeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), COALESCE(AVG(latency_ms), 0)
		 FROM send_log GROUP BY outcome ORDER BY COUNT(*) DESC, outcome`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeCount
	for rows.Next() {
		var (
			oc      OutcomeCount
			outcome string
		)
		if err := rows.Scan(&outcome, &oc.Count, &oc.AvgLatencyMs); err != nil {
			return nil, err
		}
		oc.Outcome = domain.SendOutcome(outcome)
		out = append(out, oc)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
