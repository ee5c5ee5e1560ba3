package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-flyport/internal/bridges/flyport"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ErrAddressRequired is returned by LineHistory without an address.
var ErrAddressRequired = errors.New("history: address is required")

// LineEvent is one stored line change.
type LineEvent struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Address   string    `json:"address"`
	Board     string    `json:"board"`
	Alias     string    `json:"alias"`
	Line      int       `json:"line"`
	LineKind  string    `json:"line_kind"`
	IsOn      bool      `json:"is_on"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandEntry is one stored command outcome.
type CommandEntry struct {
	ID           int64     `json:"id"`
	CommandID    string    `json:"command_id"`
	Address      string    `json:"address"`
	Command      string    `json:"command"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Reply        string    `json:"reply,omitempty"`
	ReplyMatched bool      `json:"reply_matched"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository stores history in the line_events and command_log tables.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ObserveEvent stores a delivered line change event.
func (r *Repository) ObserveEvent(ctx context.Context, e flyport.Event) error {
	return r.RecordLineChange(ctx, LineEvent{
		EventID:   e.ID,
		Address:   e.Address,
		Board:     e.Board,
		Alias:     e.Alias,
		Line:      e.Line,
		LineKind:  e.LineKind,
		IsOn:      e.IsOn(),
		CreatedAt: e.Time,
	})
}

// RecordLineChange inserts one line change. A zero CreatedAt means now.
func (r *Repository) RecordLineChange(ctx context.Context, ev LineEvent) error {
	if ev.Address == "" {
		return ErrAddressRequired
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO line_events (event_id, address, board, alias, line, line_kind, is_on, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID,
		ev.Address,
		ev.Board,
		ev.Alias,
		ev.Line,
		ev.LineKind,
		boolToInt(ev.IsOn),
		ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting line event: %w", err)
	}
	return nil
}

// RecordCommand inserts one command outcome.
func (r *Repository) RecordCommand(ctx context.Context, rec flyport.CommandRecord) error {
	created := rec.Time
	if created.IsZero() {
		created = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log
		 (command_id, address, command, source, status, error_code, error_message, reply, reply_matched, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CommandID,
		rec.Address,
		rec.Command,
		rec.Source,
		string(rec.Status),
		rec.ErrorCode,
		rec.ErrorMessage,
		rec.Reply,
		boolToInt(rec.ReplyMatched),
		created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// LineHistory returns the most recent changes of one line, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Repository) LineHistory(ctx context.Context, address string, limit int) ([]LineEvent, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, address, board, alias, line, line_kind, is_on, created_at
		 FROM line_events
		 WHERE address = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		address,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying line events: %w", err)
	}
	defer rows.Close()

	events := make([]LineEvent, 0, limit)
	for rows.Next() {
		var ev LineEvent
		var isOn int
		var created int64
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Address, &ev.Board, &ev.Alias, &ev.Line, &ev.LineKind, &isOn, &created); err != nil {
			return nil, fmt.Errorf("scanning line event: %w", err)
		}
		ev.IsOn = isOn != 0
		ev.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating line events: %w", err)
	}
	return events, nil
}

// CommandHistory returns the most recent commands, newest first.
func (r *Repository) CommandHistory(ctx context.Context, limit int) ([]CommandEntry, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, command_id, address, command, source, status, error_code, error_message, reply, reply_matched, created_at
		 FROM command_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandEntry, 0, limit)
	for rows.Next() {
		var e CommandEntry
		var matched int
		var created int64
		if err := rows.Scan(&e.ID, &e.CommandID, &e.Address, &e.Command, &e.Source, &e.Status,
			&e.ErrorCode, &e.ErrorMessage, &e.Reply, &matched, &created); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		e.ReplyMatched = matched != 0
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// Prune deletes line events and commands older than olderThan and returns
// the number of rows removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	var total int64
	for _, table := range []string{"line_events", "command_log"} {
		result, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
