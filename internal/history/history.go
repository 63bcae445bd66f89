// Package history persists completed diagnostic runs so past reports can
// be listed and re-exported without re-running the probes.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	host TEXT NOT NULL,
	protocol TEXT NOT NULL,
	port INTEGER NOT NULL,
	state TEXT NOT NULL,
	started INTEGER NOT NULL,
	completed INTEGER NOT NULL,
	report_json TEXT NOT NULL,
	report_text TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_host ON runs(host);
`

// Store is a sqlite-backed archive of completed runs.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history db unavailable: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives one completed run together with its formatted text export
// and returns the run id.
func (s *Store) Save(ctx context.Context, report model.Report, text string) (int64, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(host, protocol, port, state, started, completed, report_json, report_text)
		 VALUES(?,?,?,?,?,?,?,?)`,
		report.Target.Host, report.Target.Protocol, report.Target.Port,
		string(report.State), report.StartedAt.Unix(), report.CompletedAt.Unix(),
		string(raw), text,
	)
	if err != nil {
		return 0, fmt.Errorf("save run: %w", err)
	}
	return res.LastInsertId()
}

// Entry is one archived run as shown by the history listing.
type Entry struct {
	ID        int64
	Host      string
	Protocol  string
	Port      int
	State     string
	StartedAt time.Time
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, protocol, port, state, started FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var started int64
		if err := rows.Scan(&e.ID, &e.Host, &e.Protocol, &e.Port, &e.State, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.StartedAt = time.Unix(started, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get loads one archived run: the structured report and its text export.
func (s *Store) Get(ctx context.Context, id int64) (model.Report, string, error) {
	var raw, text string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json, report_text FROM runs WHERE id = ?`, id).Scan(&raw, &text)
	if err == sql.ErrNoRows {
		return model.Report{}, "", fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return model.Report{}, "", fmt.Errorf("load run %d: %w", id, err)
	}
	var report model.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return model.Report{}, "", fmt.Errorf("decode run %d: %w", id, err)
	}
	return report, text, nil
}
