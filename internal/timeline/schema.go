package timeline

import (
	"time"
)

// Run is the journal record of one orchestration run.
type Run struct {
	ID               int64     `json:"id"`
	TraceID          string    `json:"trace_id"`
	ChannelKey       string    `json:"channel_key"`
	Platform         string    `json:"platform"`
	SenderID         string    `json:"sender_id"`
	SenderName       string    `json:"sender_name"`
	MessageID        string    `json:"message_id"`
	Status           string    `json:"status"`               // ok, error
	Outcome          string    `json:"outcome"`              // text, media, none
	ErrorKind        string    `json:"error_kind,omitempty"` // loop_limit, content_policy, transient, unknown_tool
	Error            string    `json:"error,omitempty"`
	Iterations       int       `json:"iterations"`
	ToolCalls        string    `json:"tool_calls,omitempty"` // comma separated, in call order
	TurnsAdded       int       `json:"turns_added"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Reply            string    `json:"reply,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Duration is how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

const (
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	ChannelKey string
	Status     string
	Limit      int
	Offset     int
}

// RunStats aggregates the journal.
type RunStats struct {
	Total       int            `json:"total"`
	ByOutcome   map[string]int `json:"by_outcome"`
	ByErrorKind map[string]int `json:"by_error_kind"`
	TotalTokens int            `json:"total_tokens"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT UNIQUE NOT NULL,
	channel_key TEXT NOT NULL,
	platform TEXT,
	sender_id TEXT,
	sender_name TEXT,
	message_id TEXT,
	status TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_kind TEXT,
	error_text TEXT,
	iterations INTEGER NOT NULL DEFAULT 0,
	tool_calls TEXT,
	turns_added INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	reply TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_channel ON runs(channel_key);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
