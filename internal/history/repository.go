package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/heating"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// KeyInventoryID is the device_info key holding the daemon inventory id.
const KeyInventoryID = "inventory_id"

// ErrNotFound is returned when a device_info key is absent.
var ErrNotFound = errors.New("history: not found")

// Entry is one stored reading.
type Entry struct {
	ID        int64     `json:"id"`
	Sensor    string    `json:"sensor"`
	Command   string    `json:"command"`
	Value     string    `json:"value"`
	Numeric   *float64  `json:"numeric,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores readings in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts all readings of one cycle in a single transaction.
func (r *Repository) Record(ctx context.Context, readings []heating.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (sensor, command, value_text, value_num, unit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rd := range readings {
		if rd.Sensor == "" {
			return fmt.Errorf("reading sensor is required")
		}
		var num sql.NullFloat64
		if v, ok := rd.Numeric(); ok {
			num = sql.NullFloat64{Float64: v, Valid: true}
		}
		ts := rd.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			rd.Sensor, rd.Command, rd.Text(), num, rd.Unit, ts.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting reading %s: %w", rd.Sensor, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing readings: %w", err)
	}
	return nil
}

// Latest returns the newest entry for every sensor, ordered by sensor.
func (r *Repository) Latest(ctx context.Context) ([]Entry, error) {
	return r.query(ctx,
		`SELECT id, sensor, command, value_text, value_num, unit, created_at
		 FROM readings
		 WHERE id IN (SELECT MAX(id) FROM readings GROUP BY sensor)
		 ORDER BY sensor`)
}

// History returns entries for one sensor, newest first. limit defaults to
// 50 and is capped at 500. A zero since returns all retained rows.
func (r *Repository) History(ctx context.Context, sensor string, limit int, since time.Time) ([]Entry, error) {
	if sensor == "" {
		return nil, fmt.Errorf("sensor is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	return r.query(ctx,
		`SELECT id, sensor, command, value_text, value_num, unit, created_at
		 FROM readings
		 WHERE sensor = ? AND created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sensor, since.UTC().Format(time.RFC3339), limit)
}

// Prune deletes entries older than olderThan and returns the count.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, "DELETE FROM readings WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting readings: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// SetDeviceInfo upserts a device_info value.
func (r *Repository) SetDeviceInfo(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_info (key, value, updated_at)
		 VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("storing device info %s: %w", key, err)
	}
	return nil
}

// DeviceInfo returns a device_info value or ErrNotFound.
func (r *Repository) DeviceInfo(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM device_info WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading device info %s: %w", key, err)
	}
	return value, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var num sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Sensor, &e.Command, &e.Value, &num, &e.Unit, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if num.Valid {
			v := num.Float64
			e.Numeric = &v
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return entries, nil
}
