// Package audit records every write sent to the heating controller,
// whether it arrived over MQTT or the HTTP API.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command sources.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

// Outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// Fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Entry is one command write.
type Entry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	DeviceID  string    `json:"device_id,omitempty"`
	Command   string    `json:"command"`
	Value     string    `json:"value,omitempty"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Source  string // optional: mqtt or api
	Command string // optional: daemon command name
	Status  string // optional: ok or error
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult is a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the command log in the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Command == "" {
		return fmt.Errorf("recording command: empty command")
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, source, device_id, command, value, status, error_code, message, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, nullableString(e.DeviceID), e.Command, nullableString(e.Value),
		e.Status, nullableString(e.ErrorCode), nullableString(e.Message), nullableString(e.RequestID),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Command != "" {
		conditions = append(conditions, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_log " + where //nolint:gosec // placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := "SELECT id, source, device_id, command, value, status, error_code, message, request_id, created_at FROM command_log " + //nolint:gosec // placeholders only
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var deviceID, value, errorCode, message, requestID sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Source, &deviceID, &e.Command, &value,
			&e.Status, &errorCode, &message, &requestID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}
		e.DeviceID = deviceID.String
		e.Value = value.String
		e.ErrorCode = errorCode.String
		e.Message = message.String
		e.RequestID = requestID.String

		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
