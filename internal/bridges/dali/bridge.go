package dali

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// Bridge operation constants.
const (
	// commandTopicParts is the number of parts in a command topic.
	commandTopicParts = 4

	// commandTimeout bounds executing one command against the gateway.
	commandTimeout = DefaultRequestTimeout + 5*time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Actions sends panel actions to the gateway. It is satisfied by *RESTClient.
type Actions interface {
	SetOnOff(ctx context.Context, instanceID string, on bool) error
	Toggle(ctx context.Context, instanceID string) error
	SetLevel(ctx context.Context, instanceID string, level int) error
	RecallScene(ctx context.Context, instanceID string, sceneID int) error
}

// DeviceDirectory looks up paired devices and reports their state changes.
// It is satisfied by *device.Registry.
type DeviceDirectory interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	AddObserver(fn device.Observer) (remove func())
	GetStats() device.Stats
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	BridgeID       string
	Version        string
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Actions    Actions
	Devices    DeviceDirectory

	// Session reports gateway session state for health. Optional.
	Session StatusProvider

	Logger Logger
}

// Bridge connects paired devices to MQTT and to gateway panel actions.
// It handles:
//   - capability writes (from MQTT commands or the API) as gateway actions
//   - retained MQTT state publication for every device state change
//   - health reporting
//
// Device state is not updated when a command is sent; the gateway echoes
// the new value on its stream and the dispatcher records it.
type Bridge struct {
	bridgeID string
	mqtt     MQTTClient
	actions  Actions
	devices  DeviceDirectory
	health   *HealthReporter

	removeObserver func()

	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("gateway actions are required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device directory is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:  opts.BridgeID,
		mqtt:      opts.MQTTClient,
		actions:   opts.Actions,
		devices:   opts.Devices,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.BridgeID,
		Version:     opts.Version,
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTTClient,
		Session:     opts.Session,
		DeviceCount: func() int { return opts.Devices.GetStats().TotalDevices },
		Commands:    b.commandCounters,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands, begins publishing state changes and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.removeObserver = b.devices.AddObserver(b.publishState)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if b.removeObserver != nil {
			b.removeObserver()
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// PublishHealth publishes the current health status immediately.
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

// SetCapability forwards a capability write on a paired device to the
// gateway: onoff takes a bool, dim a level in [0, 1].
func (b *Bridge) SetCapability(ctx context.Context, deviceID string, capability device.Capability, value any) error {
	dev, err := b.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !dev.HasCapability(capability) {
		return fmt.Errorf("%w: %s has no %q", device.ErrInvalidCapability, deviceID, capability)
	}

	normalized, err := device.NormalizeValue(capability, value)
	if err != nil {
		return err
	}

	switch capability {
	case device.CapOnOff:
		on, _ := normalized.(bool) //nolint:errcheck // NormalizeValue guarantees bool
		return b.actions.SetOnOff(ctx, dev.ExternalID, on)
	case device.CapDim:
		dim, _ := normalized.(float64) //nolint:errcheck // NormalizeValue guarantees float64
		return b.actions.SetLevel(ctx, dev.ExternalID, int(math.Round(dim*MaxLevel)))
	default:
		return fmt.Errorf("%w: %q", device.ErrInvalidCapability, capability)
	}
}

// Toggle inverts a paired light's on/off state on the gateway.
func (b *Bridge) Toggle(ctx context.Context, deviceID string) error {
	dev, err := b.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !dev.HasCapability(device.CapOnOff) {
		return fmt.Errorf("%w: %s has no %q", device.ErrInvalidCapability, deviceID, device.CapOnOff)
	}
	return b.actions.Toggle(ctx, dev.ExternalID)
}

// RecallScene recalls sceneID on a paired scene controller.
func (b *Bridge) RecallScene(ctx context.Context, deviceID string, sceneID int) error {
	dev, err := b.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Kind != device.KindScene {
		return fmt.Errorf("%w: %s is not a scene controller", device.ErrInvalidKind, deviceID)
	}
	return b.actions.RecallScene(ctx, dev.ExternalID, sceneID)
}

// handleMQTTMessage routes an incoming command message.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = parts[3]
	}

	b.wg.Add(1)
	defer b.wg.Done()
	b.handleCommand(cmd)
}

// handleCommand executes one command and publishes its acknowledgment.
func (b *Bridge) handleCommand(cmd CommandMessage) {
	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	address := ""
	if dev, err := b.devices.GetDevice(ctx, cmd.DeviceID); err == nil {
		address = dev.ExternalID
	}

	if err := b.executeCommand(ctx, cmd); err != nil {
		b.commandsFailed.Add(1)
		code := errorCode(err)
		b.publishAckError(cmd, address, code, err.Error())
		return
	}

	b.commandsHandled.Add(1)
	b.publishAck(cmd, address, AckAccepted)
}

func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage) error {
	switch cmd.Command {
	case CommandOn:
		return b.SetCapability(ctx, cmd.DeviceID, device.CapOnOff, true)
	case CommandOff:
		return b.SetCapability(ctx, cmd.DeviceID, device.CapOnOff, false)
	case CommandToggle:
		return b.Toggle(ctx, cmd.DeviceID)
	case CommandDim:
		level, ok := cmd.Parameters["level"]
		if !ok {
			return fmt.Errorf("%w: dim requires parameters.level", device.ErrInvalidValue)
		}
		return b.SetCapability(ctx, cmd.DeviceID, device.CapDim, level)
	case CommandScene:
		scene, ok := intParam(cmd.Parameters, "scene")
		if !ok {
			return fmt.Errorf("%w: scene requires an integer parameters.scene", device.ErrInvalidValue)
		}
		return b.RecallScene(ctx, cmd.DeviceID, scene)
	default:
		return fmt.Errorf("%w: unknown command %q", errUnknownCommand, cmd.Command)
	}
}

var errUnknownCommand = errors.New("dali: unknown command")

// errorCode maps an execution error onto an ack error code.
func errorCode(err error) string {
	var gwErr *GatewayError
	switch {
	case errors.Is(err, errUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, ErrConfigIncomplete),
		errors.Is(err, ErrNoAccessToken):
		return ErrCodeNotConfigured
	case errors.Is(err, device.ErrInvalidValue),
		errors.Is(err, device.ErrInvalidCapability),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, ErrInvalidLevel),
		errors.Is(err, ErrInvalidScene):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.As(err, &gwErr):
		if gwErr.StatusCode == 0 {
			return ErrCodeDeviceUnreachable
		}
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

// intParam reads an integral number from JSON-decoded parameters.
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// publishState publishes a device's full state after one capability changed.
func (b *Bridge) publishState(change device.StateChange) {
	dev, err := b.devices.GetDevice(b.ctx, change.DeviceID)
	if err != nil {
		b.logError("state change for unknown device", err)
		return
	}

	msg := NewStateMessage(dev.ID, dev.ExternalID, dev.State)
	msg.Timestamp = change.Timestamp.UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(dev.ID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.publishAckMessage(NewAckMessage(cmd, status, address))
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.publishAckMessage(NewAckError(cmd, address, code, message))
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) commandCounters() (handled, failed uint64) {
	return b.commandsHandled.Load(), b.commandsFailed.Load()
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
