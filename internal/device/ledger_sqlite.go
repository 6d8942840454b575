package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStateLedger implements StateLedger using SQLite.
//
// Observations are stored in the device_states table with RFC3339Nano
// timestamps. Reads order by the auto-incremented row id, which is append
// order, so bursts recorded within the same instant keep their key order.
type SQLiteStateLedger struct {
	db *sql.DB
}

// NewSQLiteStateLedger creates a new SQLite state ledger.
func NewSQLiteStateLedger(db *sql.DB) *SQLiteStateLedger {
	return &SQLiteStateLedger{db: db}
}

// Append records a single state observation.
func (l *SQLiteStateLedger) Append(ctx context.Context, deviceID string, obs Observation, at time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if !obs.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStateType, obs.Type)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO device_states (device_id, state_key, state_value, state_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		deviceID,
		obs.Key,
		obs.Value,
		string(obs.Type),
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting state observation: %w", err)
	}

	return nil
}

// AppendBurst records every observation from one state message and refreshes
// the device's last-seen timestamp in one transaction. Observations are
// inserted in slice order, preserving the payload key order.
func (l *SQLiteStateLedger) AppendBurst(ctx context.Context, deviceID string, observations []Observation, at time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	for _, obs := range observations {
		if !obs.Type.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStateType, obs.Type)
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state burst: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	ts := at.UTC().Format(time.RFC3339Nano)
	for _, obs := range observations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_states (device_id, state_key, state_value, state_type, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			deviceID, obs.Key, obs.Value, string(obs.Type), ts,
		); err != nil {
			return fmt.Errorf("inserting state observation: %w", err)
		}
	}

	// last_seen refreshed exactly once per burst
	result, err := tx.ExecContext(ctx,
		"UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state burst: %w", err)
	}

	return nil
}

// Latest returns the newest observation for a (device, key) pair.
func (l *SQLiteStateLedger) Latest(ctx context.Context, deviceID, key string) (*DeviceState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	row := l.db.QueryRowContext(ctx,
		`SELECT id, device_id, state_key, state_value, state_type, created_at
		 FROM device_states
		 WHERE device_id = ? AND state_key = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		deviceID, key,
	)

	entry, err := scanDeviceState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest state: %w", err)
	}
	return entry, nil
}

// LatestAll returns the newest observation for every key a device has ever
// reported, ordered by key.
func (l *SQLiteStateLedger) LatestAll(ctx context.Context, deviceID string) ([]DeviceState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, device_id, state_key, state_value, state_type, created_at
		 FROM device_states
		 WHERE id IN (
			SELECT MAX(id) FROM device_states WHERE device_id = ? GROUP BY state_key
		 )
		 ORDER BY state_key`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest states: %w", err)
	}
	defer rows.Close()

	var entries []DeviceState
	for rows.Next() {
		entry, err := scanDeviceState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning latest states: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest states: %w", err)
	}

	return entries, nil
}

// History returns recent observations for a device, newest first.
// An empty key returns observations across all keys.
func (l *SQLiteStateLedger) History(ctx context.Context, deviceID, key string, limit int) ([]DeviceState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, device_id, state_key, state_value, state_type, created_at
		 FROM device_states
		 WHERE device_id = ?`
	args := []any{deviceID}
	if key != "" {
		query += " AND state_key = ?"
		args = append(args, key)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]DeviceState, 0, limit)
	for rows.Next() {
		entry, err := scanDeviceState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// scanDeviceState scans a row or rows result into a DeviceState.
func scanDeviceState(scanner RowScanner) (*DeviceState, error) {
	var entry DeviceState
	var stateType, createdAt string

	if err := scanner.Scan(
		&entry.ID,
		&entry.DeviceID,
		&entry.Key,
		&entry.Value,
		&stateType,
		&createdAt,
	); err != nil {
		return nil, err
	}

	entry.Type = StateType(stateType)

	timestamp, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	entry.CreatedAt = timestamp

	return &entry, nil
}
