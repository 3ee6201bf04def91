package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// Measurements written by the bridge.
const (
	MeasurementState  = "device_state"
	MeasurementEvents = "dali_events"
)

// ObserveStateChange records one capability change. Its signature matches
// device.Observer so it can be registered on the registry directly.
func (c *Client) ObserveStateChange(change device.StateChange) {
	c.writePoint(statePoint(change))
}

// statePoint converts a state change into a point. onoff is stored as a
// bool field "on", dim as a float field "level". Unknown value types are
// dropped.
func statePoint(change device.StateChange) *write.Point {
	fields := make(map[string]any, 1)
	switch v := change.Value.(type) {
	case bool:
		fields["on"] = v
	case float64:
		fields["level"] = v
	default:
		return nil
	}

	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		MeasurementState,
		map[string]string{
			"device_id":   change.DeviceID,
			"external_id": change.ExternalID,
			"kind":        string(change.Kind),
			"capability":  string(change.Capability),
		},
		fields,
		ts,
	)
}

// RecordEvent writes a session lifecycle event (session_built,
// login_failed, ...) as a counter point. Detail values that are strings
// become tags; everything else is ignored to keep cardinality bounded.
func (c *Client) RecordEvent(_ context.Context, action string, details map[string]any) {
	c.writePoint(eventPoint(action, details, time.Now()))
}

func eventPoint(action string, details map[string]any, at time.Time) *write.Point {
	tags := map[string]string{"action": action}
	for k, v := range details {
		if s, ok := v.(string); ok && k != "error" {
			tags[k] = s
		}
	}
	return write.NewPoint(MeasurementEvents, tags, map[string]any{"count": 1}, at)
}
