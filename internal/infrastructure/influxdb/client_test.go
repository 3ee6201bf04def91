package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-dali/internal/device"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func tagsOf(p *write.Point) map[string]string {
	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func fieldsOf(p *write.Point) map[string]any {
	fields := make(map[string]any)
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestStatePoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		value       any
		wantField   string
		wantValue   any
		wantDropped bool
	}{
		{name: "onoff", value: true, wantField: "on", wantValue: true},
		{name: "dim", value: 0.42, wantField: "level", wantValue: 0.42},
		{name: "unsupported", value: "bright", wantDropped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := statePoint(device.StateChange{
				DeviceID:   "dev-1",
				ExternalID: "17",
				Kind:       device.KindDimmable,
				Capability: device.CapDim,
				Value:      tt.value,
				Timestamp:  at,
			})
			if tt.wantDropped {
				if p != nil {
					t.Fatal("expected no point")
				}
				return
			}
			if p.Name() != MeasurementState {
				t.Errorf("measurement = %s", p.Name())
			}
			tags := tagsOf(p)
			if tags["device_id"] != "dev-1" || tags["external_id"] != "17" || tags["kind"] != "dimmable" || tags["capability"] != "dim" {
				t.Errorf("tags = %v", tags)
			}
			if got := fieldsOf(p)[tt.wantField]; got != tt.wantValue {
				t.Errorf("field %s = %v, want %v", tt.wantField, got, tt.wantValue)
			}
			if !p.Time().Equal(at) {
				t.Errorf("time = %v, want %v", p.Time(), at)
			}
		})
	}
}

func TestObserveStateChange(t *testing.T) {
	c, w := newTestClient()

	c.ObserveStateChange(device.StateChange{DeviceID: "a", Capability: device.CapOnOff, Value: true})
	c.ObserveStateChange(device.StateChange{DeviceID: "a", Capability: device.CapOnOff, Value: nil})

	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on close = %d, want 1", w.flushes)
	}

	c.ObserveStateChange(device.StateChange{DeviceID: "a", Capability: device.CapOnOff, Value: false})
	c.Flush()
	if len(w.points) != 1 || w.flushes != 1 {
		t.Error("client wrote after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestRecordEvent(t *testing.T) {
	c, w := newTestClient()

	c.RecordEvent(context.Background(), "login_failed", map[string]any{
		"server_url": "gw.local",
		"error":      "401 unauthorized",
		"attempt":    3,
	})

	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementEvents {
		t.Errorf("measurement = %s", p.Name())
	}
	tags := tagsOf(p)
	want := map[string]string{"action": "login_failed", "server_url": "gw.local"}
	if len(tags) != len(want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{writer: &fakeWriter{}}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}
