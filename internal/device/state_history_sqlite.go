package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SQLiteStateHistoryRepository implements StateHistoryRepository using SQLite.
//
// Register values are stored as a JSON object keyed by address in the
// state_history table. Timestamps are unix milliseconds.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository creates a new SQLite state history repository.
//
// Parameters:
//   - db: Open SQLite connection with the state_history migration applied
//
// Returns:
//   - *SQLiteStateHistoryRepository: Repository instance ready for use
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordState inserts a state history entry for a device.
//
// Empty states are rejected; a snapshot with no registers carries nothing
// worth keeping.
func (r *SQLiteStateHistoryRepository) RecordState(ctx context.Context, deviceID string, state reclaim.DeviceState, at time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidHistory)
	}
	if state.Len() == 0 {
		return fmt.Errorf("%w: state has no registers", ErrInvalidHistory)
	}

	registersJSON, err := json.Marshal(state.Registers())
	if err != nil {
		return fmt.Errorf("marshalling registers: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, kind, registers, created_at) VALUES (?, ?, ?, ?)",
		deviceID,
		state.Kind().String(),
		string(registersJSON),
		at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// GetHistory returns recent state history entries for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device hex of the controller
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []StateHistoryEntry: History entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidHistory)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, kind, registers, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// LatestSnapshot returns the newest snapshot recorded for a device.
//
// Returns:
//   - StateHistoryEntry: The snapshot entry
//   - error: ErrHistoryNotFound if no snapshot has been recorded
func (r *SQLiteStateHistoryRepository) LatestSnapshot(ctx context.Context, deviceID string) (StateHistoryEntry, error) {
	if deviceID == "" {
		return StateHistoryEntry{}, fmt.Errorf("%w: device id is required", ErrInvalidHistory)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, device_id, kind, registers, created_at
		 FROM state_history
		 WHERE device_id = ? AND kind = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		deviceID,
		reclaim.Snapshot.String(),
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StateHistoryEntry{}, ErrHistoryNotFound
	}
	return entry, err
}

// PruneHistory deletes history entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: olderThan must be positive", ErrInvalidHistory)
	}

	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (StateHistoryEntry, error) {
	var (
		entry         StateHistoryEntry
		kind          string
		registersJSON string
		createdAt     int64
	)

	if err := row.Scan(&entry.ID, &entry.DeviceID, &kind, &registersJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("scanning state history: %w", err)
	}

	var registers map[uint16]int
	if err := json.Unmarshal([]byte(registersJSON), &registers); err != nil {
		return entry, fmt.Errorf("%w: id %d: %w", ErrCorruptHistory, entry.ID, err)
	}

	state, err := restoreState(kind, registers)
	if err != nil {
		return entry, fmt.Errorf("%w: id %d: %w", ErrCorruptHistory, entry.ID, err)
	}

	entry.State = state
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	return entry, nil
}

// restoreState rebuilds a DeviceState from its stored kind and registers.
func restoreState(kind string, registers map[uint16]int) (reclaim.DeviceState, error) {
	switch kind {
	case reclaim.Snapshot.String():
		return reclaim.NewSnapshot(registers), nil
	case reclaim.Delta.String():
		if len(registers) != 1 {
			return reclaim.DeviceState{}, fmt.Errorf("delta holds %d registers", len(registers))
		}
		for addr, raw := range registers {
			return reclaim.NewDelta(addr, raw), nil
		}
	}
	return reclaim.DeviceState{}, fmt.Errorf("unknown kind %q", kind)
}
