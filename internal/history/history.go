// Package history is an optional collaborator that tails state store
// publishes into an append-only SQLite log. The core keeps no history;
// retention lives here.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Dzordzu/o11y-389ds/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS probe_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	probe       TEXT    NOT NULL,
	observed_at TEXT    NOT NULL,
	health      TEXT    NOT NULL,
	error_kind  TEXT,
	detail      TEXT,
	payload     TEXT
);
CREATE INDEX IF NOT EXISTS idx_probe_results_probe ON probe_results(probe, observed_at);
`

// Recorder persists probe results. Publishes are handed off through a
// bounded channel; when the writer falls behind, results are dropped
// rather than ever blocking a scheduler task.
type Recorder struct {
	db *sql.DB
	ch chan state.Entry
}

// Open creates or opens the history database, creating the parent
// directory if needed.
func Open(ctx context.Context, path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// SQLite works best with a single connection for writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Recorder{db: db, ch: make(chan state.Entry, 256)}, nil
}

// Hook returns the state store subscriber. It never blocks: a full buffer
// drops the entry and logs.
func (r *Recorder) Hook() func(state.Entry) {
	return func(entry state.Entry) {
		select {
		case r.ch <- entry:
		default:
			slog.Warn("history buffer full, dropping result",
				"probe", entry.Result.Key.String())
		}
	}
}

// Run drains the buffer into the database until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.db.Close()

	for {
		select {
		case entry := <-r.ch:
			if err := r.insert(ctx, entry); err != nil {
				slog.Error("history insert failed",
					"probe", entry.Result.Key.String(), "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Recorder) insert(ctx context.Context, entry state.Entry) error {
	res := entry.Result

	var errorKind, detail sql.NullString
	if res.Err != nil {
		errorKind = sql.NullString{String: string(res.Err.Kind), Valid: true}
		detail = sql.NullString{String: res.Err.Detail, Valid: true}
	}

	var payload sql.NullString
	if res.Payload != nil {
		data, err := json.Marshal(res.Payload)
		if err == nil {
			payload = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO probe_results (probe, observed_at, health, error_kind, detail, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.Key.String(),
		res.ObservedAt.UTC().Format("2006-01-02T15:04:05.999Z"),
		string(entry.Health),
		errorKind, detail, payload,
	)
	return err
}
