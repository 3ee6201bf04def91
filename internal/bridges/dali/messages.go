package dali

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the DALI bridge.

// Protocol is the protocol identifier carried in acks and state messages.
const Protocol = "dali"

// Commands accepted on the command topic.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
	CommandDim    = "dim"   // parameters.level: 0..1
	CommandScene  = "scene" // parameters.scene: zero-based scene id
)

// CommandMessage is sent from Core to the bridge to act on a device.
// Topic: graylogic/command/dali/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the local device identifier. When empty it is taken
	// from the topic.
	DeviceID string `json:"device_id"`

	// Command is one of on, off, toggle, dim, scene.
	Command string `json:"command"`

	// Parameters contains command-specific values:
	//   {"level": 0.5} for dim
	//   {"scene": 2} for scene
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source"`
}

// UnmarshalJSON accepts a missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the gateway accepted the panel action.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the gateway did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/dali/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the gateway instance id, when known.
	Address string `json:"address,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core when a device's state changes.
// Topic: graylogic/state/dali/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"

	// HealthOffline is left on the health topic when the MQTT session ends.
	HealthOffline HealthStatus = "offline"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/dali
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Session        *SessionHealth    `json:"session,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway stream.
type ConnectionStatus struct {
	// Status is the stream state ("open", "closed", "opening", "closing").
	Status           string     `json:"status"`
	Address          string     `json:"address,omitempty"`
	ConnectedSince   *time.Time `json:"connected_since,omitempty"`
	ReconnectPending bool       `json:"reconnect_pending"`
}

// SessionHealth summarises authentication state.
type SessionHealth struct {
	Configured     bool       `json:"configured"`
	Authenticated  bool       `json:"authenticated"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	MessagesReceived uint64 `json:"messages_received"`
	DecodeErrors     uint64 `json:"decode_errors"`
	Reconnects       uint64 `json:"reconnects"`
	CommandsHandled  uint64 `json:"commands_handled"`
	CommandsFailed   uint64 `json:"commands_failed"`
	RefreshFailures  uint64 `json:"refresh_failures"`
}

// NewAckMessage creates a successful acknowledgment for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment for cmd.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, address string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewHealthMessage builds a health message from a session snapshot.
func NewHealthMessage(bridgeID, version string, status HealthStatus, st Status, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Session: &SessionHealth{
			Configured:     st.Configured,
			Authenticated:  st.Authenticated,
			TokenExpiresAt: st.TokenExpiresAt,
		},
		Connection: &ConnectionStatus{
			Status:  StateClosed.String(),
			Address: st.ServerURL,
		},
		Statistics: &BridgeStatistics{},
	}

	if st.Stream != nil {
		msg.Connection.Status = st.Stream.State
		msg.Connection.ConnectedSince = st.Stream.ConnectedSince
		msg.Connection.ReconnectPending = st.Stream.ReconnectPending
		msg.Statistics.MessagesReceived = st.Stream.MessagesReceived
		msg.Statistics.DecodeErrors = st.Stream.DecodeErrors
		msg.Statistics.Reconnects = st.Stream.Reconnects
	}
	if st.Refresher != nil {
		msg.Statistics.RefreshFailures = st.Refresher.Failures
	}
	return msg
}

// NewOfflineMessage creates the health message left behind when the bridge
// leaves MQTT. With reason "unexpected_disconnect" it serves as the Last Will.
func NewOfflineMessage(bridgeID, version, reason string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Version:   version,
		Reason:    reason,
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the MQTT topic for commands to a device.
// Example: graylogic/command/dali/3f2c...
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns the MQTT topic for device state updates.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the MQTT topic for bridge health.
// Example: graylogic/health/dali
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/dali/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}
