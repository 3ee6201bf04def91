package dali

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// PublishedTo returns the payloads published to topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message through the subscription matching
// the command wildcard.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[CommandSubscribeTopic()]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// mockActions records gateway actions.
type mockActions struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *mockActions) record(call string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
	return a.err
}

func (a *mockActions) SetOnOff(_ context.Context, id string, on bool) error {
	return a.record(fmt.Sprintf("onoff %s %v", id, on))
}

func (a *mockActions) Toggle(_ context.Context, id string) error {
	return a.record("toggle " + id)
}

func (a *mockActions) SetLevel(_ context.Context, id string, level int) error {
	return a.record(fmt.Sprintf("level %s %d", id, level))
}

func (a *mockActions) RecallScene(_ context.Context, id string, scene int) error {
	return a.record(fmt.Sprintf("scene %s %d", id, scene))
}

func (a *mockActions) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// mockDirectory implements DeviceDirectory over a fixed device set.
type mockDirectory struct {
	mu        sync.Mutex
	devices   map[string]*device.Device
	observers []device.Observer
}

func newMockDirectory() *mockDirectory {
	d := &mockDirectory{devices: map[string]*device.Device{}}
	for _, dev := range []device.Device{
		{ID: "light", Kind: device.KindDimmable, ExternalID: "7", Capabilities: device.CapabilitiesFor(device.KindDimmable), State: device.State{}},
		{ID: "switch", Kind: device.KindBistable, ExternalID: "9", Capabilities: device.CapabilitiesFor(device.KindBistable), State: device.State{}},
		{ID: "scenes", Kind: device.KindScene, ExternalID: "10"},
	} {
		dev := dev
		d.devices[dev.ID] = &dev
	}
	return d
}

func (d *mockDirectory) GetDevice(_ context.Context, id string) (*device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return dev.DeepCopy(), nil
}

func (d *mockDirectory) AddObserver(fn device.Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
	idx := len(d.observers) - 1
	return func() {
		d.mu.Lock()
		d.observers[idx] = nil
		d.mu.Unlock()
	}
}

func (d *mockDirectory) GetStats() device.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return device.Stats{TotalDevices: len(d.devices)}
}

// emit updates a device and notifies observers like the registry does.
func (d *mockDirectory) emit(id string, capability device.Capability, value any) {
	d.mu.Lock()
	d.devices[id].State[string(capability)] = value
	observers := append([]device.Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, fn := range observers {
		if fn != nil {
			fn(device.StateChange{DeviceID: id, Capability: capability, Value: value, Timestamp: time.Now()})
		}
	}
}

func newTestBridge(t *testing.T) (*Bridge, *MockMQTTClient, *mockActions, *mockDirectory) {
	t.Helper()
	mqtt := NewMockMQTTClient()
	actions := &mockActions{}
	dir := newMockDirectory()

	b, err := NewBridge(BridgeOptions{
		BridgeID:   "dali-test",
		Version:    "test",
		MQTTClient: mqtt,
		Actions:    actions,
		Devices:    dir,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, mqtt, actions, dir
}

func TestNewBridge_Validation(t *testing.T) {
	full := BridgeOptions{
		BridgeID:   "b",
		MQTTClient: NewMockMQTTClient(),
		Actions:    &mockActions{},
		Devices:    newMockDirectory(),
	}
	tests := []struct {
		name   string
		mutate func(*BridgeOptions)
	}{
		{"no id", func(o *BridgeOptions) { o.BridgeID = "" }},
		{"no mqtt", func(o *BridgeOptions) { o.MQTTClient = nil }},
		{"no actions", func(o *BridgeOptions) { o.Actions = nil }},
		{"no devices", func(o *BridgeOptions) { o.Devices = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			if _, err := NewBridge(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBridge_Commands(t *testing.T) {
	tests := []struct {
		name      string
		deviceID  string
		command   string
		params    map[string]any
		wantCall  string
		wantCode  string
		actionErr error
	}{
		{name: "on", deviceID: "light", command: "on", wantCall: "onoff 7 true"},
		{name: "off", deviceID: "switch", command: "off", wantCall: "onoff 9 false"},
		{name: "toggle", deviceID: "light", command: "toggle", wantCall: "toggle 7"},
		{name: "dim", deviceID: "light", command: "dim", params: map[string]any{"level": 0.5}, wantCall: "level 7 50"},
		{name: "dim rounds", deviceID: "light", command: "dim", params: map[string]any{"level": 0.555}, wantCall: "level 7 56"},
		{name: "scene", deviceID: "scenes", command: "scene", params: map[string]any{"scene": 2}, wantCall: "scene 10 2"},
		{name: "dim out of range", deviceID: "light", command: "dim", params: map[string]any{"level": 1.5}, wantCode: ErrCodeInvalidParameters},
		{name: "dim without level", deviceID: "light", command: "dim", wantCode: ErrCodeInvalidParameters},
		{name: "dim on bistable", deviceID: "switch", command: "dim", params: map[string]any{"level": 0.5}, wantCode: ErrCodeInvalidParameters},
		{name: "scene on light", deviceID: "light", command: "scene", params: map[string]any{"scene": 1}, wantCode: ErrCodeInvalidParameters},
		{name: "fractional scene", deviceID: "scenes", command: "scene", params: map[string]any{"scene": 1.5}, wantCode: ErrCodeInvalidParameters},
		{name: "unknown device", deviceID: "nope", command: "on", wantCode: ErrCodeNotConfigured},
		{name: "unknown command", deviceID: "light", command: "blink", wantCode: ErrCodeInvalidCommand},
		{
			name: "gateway unreachable", deviceID: "light", command: "on",
			actionErr: &GatewayError{Op: "turnOn", Err: errors.New("dial tcp: refused")},
			wantCall:  "onoff 7 true", wantCode: ErrCodeDeviceUnreachable,
		},
		{
			name: "gateway rejects", deviceID: "light", command: "on",
			actionErr: &GatewayError{Op: "turnOn", StatusCode: 500, Err: errors.New("boom")},
			wantCall:  "onoff 7 true", wantCode: ErrCodeProtocolError,
		},
		{
			name: "no session", deviceID: "light", command: "on",
			actionErr: ErrNoAccessToken,
			wantCall:  "onoff 7 true", wantCode: ErrCodeNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mqtt, actions, _ := newTestBridge(t)
			actions.err = tt.actionErr

			payload, err := json.Marshal(map[string]any{
				"id":         "cmd-1",
				"command":    tt.command,
				"parameters": tt.params,
				"source":     "test",
			})
			if err != nil {
				t.Fatal(err)
			}
			mqtt.SimulateMessage(CommandTopic(tt.deviceID), payload)

			calls := actions.Calls()
			switch {
			case tt.wantCall == "" && len(calls) != 0:
				t.Errorf("unexpected gateway calls %v", calls)
			case tt.wantCall != "" && (len(calls) != 1 || calls[0] != tt.wantCall):
				t.Errorf("gateway calls = %v, want [%s]", calls, tt.wantCall)
			}

			acks := mqtt.PublishedTo(AckTopic(tt.deviceID))
			if len(acks) != 1 {
				t.Fatalf("got %d acks, want 1", len(acks))
			}
			var ack AckMessage
			if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.CommandID != "cmd-1" || ack.DeviceID != tt.deviceID || ack.Protocol != Protocol {
				t.Errorf("ack = %+v", ack)
			}
			if tt.wantCode == "" {
				if ack.Status != AckAccepted || ack.Error != nil {
					t.Errorf("ack = %+v, want accepted", ack)
				}
				return
			}
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed with %s", ack, tt.wantCode)
			}
		})
	}
}

func TestBridge_InvalidTopicIgnored(t *testing.T) {
	_, mqtt, actions, _ := newTestBridge(t)

	mqtt.SimulateMessage("graylogic/command/dali", []byte(`{"command":"on"}`))
	mqtt.SimulateMessage(CommandTopic("light"), []byte(`{not json`))

	if calls := actions.Calls(); len(calls) != 0 {
		t.Errorf("gateway calls = %v, want none", calls)
	}
	if acks := mqtt.PublishedTo(AckTopic("light")); len(acks) != 0 {
		t.Errorf("acks = %d, want none", len(acks))
	}
}

func TestBridge_PublishesState(t *testing.T) {
	_, mqtt, _, dir := newTestBridge(t)

	dir.emit("light", device.CapDim, 0.4)

	msgs := mqtt.PublishedTo(StateTopic("light"))
	if len(msgs) != 1 {
		t.Fatalf("got %d state messages, want 1", len(msgs))
	}
	if !msgs[0].Retained || msgs[0].QoS != 1 {
		t.Errorf("state published with qos=%d retained=%v", msgs[0].QoS, msgs[0].Retained)
	}
	var state StateMessage
	if err := json.Unmarshal(msgs[0].Payload, &state); err != nil {
		t.Fatal(err)
	}
	if state.Address != "7" || state.State["dim"] != 0.4 {
		t.Errorf("state = %+v", state)
	}
}

func TestBridge_StopRemovesObserver(t *testing.T) {
	b, mqtt, _, dir := newTestBridge(t)
	b.Stop()

	dir.emit("light", device.CapOnOff, true)

	if msgs := mqtt.PublishedTo(StateTopic("light")); len(msgs) != 0 {
		t.Errorf("state published after Stop")
	}
	health := mqtt.PublishedTo(HealthTopic())
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health status = %s, want stopping", last.Status)
	}
}

func TestBridge_CommandCounters(t *testing.T) {
	b, mqtt, _, _ := newTestBridge(t)

	mqtt.SimulateMessage(CommandTopic("light"), []byte(`{"id":"1","command":"on"}`))
	mqtt.SimulateMessage(CommandTopic("light"), []byte(`{"id":"2","command":"blink"}`))

	handled, failed := b.commandCounters()
	if handled != 1 || failed != 1 {
		t.Errorf("counters = %d/%d, want 1/1", handled, failed)
	}
}
