// Package timeline is the sqlite-backed run journal.
package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

type Service struct {
	db *sql.DB
}

// NewService opens (and creates if needed) the journal at dbPath.
func NewService(dbPath string) (*Service, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create timeline dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) DB() *sql.DB { return s.db }

func (s *Service) Close() error {
	return s.db.Close()
}

// RecordRun inserts run and sets its ID.
func (s *Service) RecordRun(ctx context.Context, run *Run) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (trace_id, channel_key, platform, sender_id, sender_name, message_id,
			status, outcome, error_kind, error_text, iterations, tool_calls, turns_added,
			prompt_tokens, completion_tokens, total_tokens, reply, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TraceID, run.ChannelKey, run.Platform, run.SenderID, run.SenderName, run.MessageID,
		run.Status, run.Outcome, run.ErrorKind, run.Error, run.Iterations, run.ToolCalls, run.TurnsAdded,
		run.PromptTokens, run.CompletionTokens, run.TotalTokens, run.Reply,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

const runColumns = `id, trace_id, channel_key, COALESCE(platform,''), COALESCE(sender_id,''),
	COALESCE(sender_name,''), COALESCE(message_id,''), status, outcome, COALESCE(error_kind,''),
	COALESCE(error_text,''), iterations, COALESCE(tool_calls,''), turns_added,
	prompt_tokens, completion_tokens, total_tokens, COALESCE(reply,''), started_at, finished_at`

// ListRuns returns runs newest first.
func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}
	if filter.ChannelKey != "" {
		query += " AND channel_key = ?"
		args = append(args, filter.ChannelKey)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with traceID.
func (s *Service) GetRun(ctx context.Context, traceID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE trace_id = ?`, traceID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", traceID, ErrNotFound)
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.TraceID, &r.ChannelKey, &r.Platform, &r.SenderID,
		&r.SenderName, &r.MessageID, &r.Status, &r.Outcome, &r.ErrorKind,
		&r.Error, &r.Iterations, &r.ToolCalls, &r.TurnsAdded,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.Reply, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Stats aggregates every recorded run.
func (s *Service) Stats(ctx context.Context) (*RunStats, error) {
	st := &RunStats{ByOutcome: map[string]int{}, ByErrorKind: map[string]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COALESCE(error_kind,''), COUNT(*), COALESCE(SUM(total_tokens),0)
		FROM runs GROUP BY outcome, error_kind`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome, kind string
		var n, tokens int
		if err := rows.Scan(&outcome, &kind, &n, &tokens); err != nil {
			return nil, err
		}
		st.Total += n
		st.TotalTokens += tokens
		st.ByOutcome[outcome] += n
		if kind != "" {
			st.ByErrorKind[kind] += n
		}
	}
	return st, rows.Err()
}

// GetSetting returns a setting value by key.
func (s *Service) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetSetting persists a setting value.
func (s *Service) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}
