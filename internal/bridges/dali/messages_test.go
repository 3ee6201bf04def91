package dali

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCommandMessage_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantTS  bool
		wantErr bool
	}{
		{
			name:   "with timestamp",
			input:  `{"id":"c1","timestamp":"2026-01-15T10:30:00Z","command":"dim","parameters":{"level":0.5}}`,
			wantTS: true,
		},
		{
			name:  "without timestamp",
			input: `{"id":"c1","command":"on"}`,
		},
		{
			name:    "bad timestamp",
			input:   `{"id":"c1","timestamp":"yesterday","command":"on"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd CommandMessage
			err := json.Unmarshal([]byte(tt.input), &cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cmd.ID != "c1" {
				t.Errorf("ID = %q", cmd.ID)
			}
			if cmd.Timestamp.IsZero() == tt.wantTS {
				t.Errorf("Timestamp = %v, want set=%v", cmd.Timestamp, tt.wantTS)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{CommandTopic("dev-1"), "graylogic/command/dali/dev-1"},
		{AckTopic("dev-1"), "graylogic/ack/dali/dev-1"},
		{StateTopic("dev-1"), "graylogic/state/dali/dev-1"},
		{HealthTopic(), "graylogic/health/dali"},
		{CommandSubscribeTopic(), "graylogic/command/dali/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewAckError_TimeoutStatus(t *testing.T) {
	cmd := CommandMessage{ID: "c1", DeviceID: "dev-1"}

	if ack := NewAckError(cmd, "7", ErrCodeTimeout, "slow"); ack.Status != AckTimeout {
		t.Errorf("timeout code status = %q, want %q", ack.Status, AckTimeout)
	}
	ack := NewAckError(cmd, "7", ErrCodeDeviceUnreachable, "down")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeDeviceUnreachable {
		t.Errorf("ack = %+v", ack)
	}
}

func TestNewHealthMessage(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	st := Status{
		Configured:    true,
		Authenticated: true,
		ServerURL:     "gw.local",
		Stream: &StreamStats{
			State:            StateOpen.String(),
			ConnectedSince:   &since,
			MessagesReceived: 12,
			DecodeErrors:     1,
			Reconnects:       2,
		},
		Refresher: &RefresherStats{Failures: 3},
	}

	msg := NewHealthMessage("dali-01", "1.0.0", HealthHealthy, st, 4, time.Now().Add(-time.Hour))

	if msg.Connection.Status != "open" || msg.Connection.Address != "gw.local" {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if msg.Statistics.MessagesReceived != 12 || msg.Statistics.Reconnects != 2 || msg.Statistics.RefreshFailures != 3 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
	if !msg.Session.Authenticated || msg.DevicesManaged != 4 {
		t.Errorf("message = %+v", msg)
	}
	if msg.UptimeSeconds < 3599 {
		t.Errorf("uptime = %d", msg.UptimeSeconds)
	}

	idle := NewHealthMessage("dali-01", "1.0.0", HealthDegraded, Status{}, 0, time.Now())
	if idle.Connection.Status != "closed" {
		t.Errorf("no stream status = %q, want closed", idle.Connection.Status)
	}
}

func TestNewOfflineMessage(t *testing.T) {
	msg := NewOfflineMessage("dali-01", "1.0.0", "unexpected_disconnect")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "offline" || decoded["reason"] != "unexpected_disconnect" {
		t.Errorf("payload = %s", data)
	}
	if _, ok := decoded["session"]; ok {
		t.Errorf("offline payload should carry no session block: %s", data)
	}
}
