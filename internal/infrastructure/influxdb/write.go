package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

// StateMeasurement is the measurement name for controller state points.
const StateMeasurement = "reclaim_state"

// WriteState queues one decoded controller state.
//
// The point is tagged with the state kind (device_id comes from the client)
// and carries one field per attribute present in the state: temperatures and
// electrical readings as floats, counters as integers, flags as booleans and
// enums as their labels. Attributes that fail to decode are left out.
//
// Returns:
//   - bool: false if nothing was queued (closed, or no decodable fields)
func (c *Client) WriteState(state reclaim.DeviceState, at time.Time) bool {
	point, ok := statePoint(state, at)
	if !ok {
		return false
	}

	// Held across the write so Close cannot tear the write API down mid-call.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.writeAPI.WritePoint(point)
	return true
}

// statePoint converts a state to a line-protocol point.
func statePoint(state reclaim.DeviceState, at time.Time) (*write.Point, bool) {
	values, _ := state.Values() //nolint:errcheck // Undecodable attributes are skipped

	fields := make(map[string]interface{}, len(values))
	for attr, v := range values {
		switch v.(type) {
		case float64, int, bool, string:
			fields[string(attr)] = v
		}
	}
	if len(fields) == 0 {
		return nil, false
	}

	point := write.NewPoint(
		StateMeasurement,
		map[string]string{"kind": state.Kind().String()},
		fields,
		at,
	)
	return point, true
}
