package device

import (
	"context"
	"time"

	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

// StateHistoryEntry represents a single decoded controller message.
//
// Snapshots hold the full register table; deltas hold the one register a
// write acknowledgement reported. Raw register values are stored, so
// history survives changes to the attribute transforms.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the device hex of the controller.
	DeviceID string `json:"device_id"`

	// State is the decoded register view.
	State reclaim.DeviceState `json:"-"`

	// CreatedAt is when the state was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves controller state history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordState records one controller state.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Device hex of the controller
	//   - state: Snapshot or delta to persist
	//   - at: Observation time
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordState(ctx context.Context, deviceID string, state reclaim.DeviceState, at time.Time) error

	// GetHistory returns recent states for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Device hex of the controller
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// LatestSnapshot returns the most recent full snapshot for the device.
	LatestSnapshot(ctx context.Context, deviceID string) (StateHistoryEntry, error)

	// PruneHistory deletes entries older than the given duration.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
