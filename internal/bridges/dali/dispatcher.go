package dali

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// DeviceStore is the part of the device registry the dispatcher writes to.
// It is satisfied by *device.Registry.
type DeviceStore interface {
	ListByKind(ctx context.Context, kind device.Kind) []device.Device
	SetCapability(ctx context.Context, id string, capability device.Capability, value any) error
}

// DispatchStats counts dispatcher outcomes.
type DispatchStats struct {
	Dispatched uint64 `json:"dispatched"`
	Ignored    uint64 `json:"ignored"`
	Unmatched  uint64 `json:"unmatched"`
	WriteFails uint64 `json:"write_failures"`
}

// Dispatcher maps stream values onto device capabilities.
//
// Dimmable lights and groups receive the value as a 0..100 level; bistable
// lights treat exactly 1 as on. Scene controllers have no state.
type Dispatcher struct {
	devices DeviceStore
	logger  Logger

	dispatched atomic.Uint64
	ignored    atomic.Uint64
	unmatched  atomic.Uint64
	writeFails atomic.Uint64
}

// NewDispatcher creates a dispatcher writing to devices.
func NewDispatcher(devices DeviceStore, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{devices: devices, logger: logger}
}

// Dispatch applies one stream frame. Frames other than variableValue and
// frames matching no paired device are dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, msg StreamMessage) {
	if msg.MessageType != MessageTypeVariableValue {
		d.ignored.Add(1)
		return
	}

	value := msg.VariableValue
	if math.IsNaN(value) || math.IsInf(value, 0) {
		d.ignored.Add(1)
		d.logger.Warn("ignoring non-finite stream value", "instance_id", msg.InstanceID)
		return
	}

	externalID := strconv.Itoa(msg.InstanceID)
	matched := 0

	for _, kind := range []device.Kind{device.KindDimmable, device.KindGroup} {
		for _, dev := range d.devices.ListByKind(ctx, kind) {
			if dev.ExternalID != externalID {
				continue
			}
			matched++
			d.applyLevel(ctx, dev.ID, value)
		}
	}

	for _, dev := range d.devices.ListByKind(ctx, device.KindBistable) {
		if dev.ExternalID != externalID {
			continue
		}
		matched++
		d.write(ctx, dev.ID, device.CapOnOff, value == 1)
	}

	if matched == 0 {
		d.unmatched.Add(1)
		return
	}
	d.dispatched.Add(1)
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Dispatched: d.dispatched.Load(),
		Ignored:    d.ignored.Load(),
		Unmatched:  d.unmatched.Load(),
		WriteFails: d.writeFails.Load(),
	}
}

// applyLevel converts a 0..100 level into dim and onoff writes.
func (d *Dispatcher) applyLevel(ctx context.Context, id string, level float64) {
	dim := roundTo(level/100, 2)

	switch {
	case dim <= 0:
		d.write(ctx, id, device.CapOnOff, false)
		d.write(ctx, id, device.CapDim, 0.0)
	case dim >= 1:
		d.write(ctx, id, device.CapOnOff, true)
		d.write(ctx, id, device.CapDim, 1.0)
	default:
		d.write(ctx, id, device.CapDim, dim)
		d.write(ctx, id, device.CapOnOff, true)
	}
}

func (d *Dispatcher) write(ctx context.Context, id string, capability device.Capability, value any) {
	if err := d.devices.SetCapability(ctx, id, capability, value); err != nil {
		d.writeFails.Add(1)
		d.logger.Error("capability update failed",
			"device_id", id,
			"capability", capability,
			"error", err)
	}
}

// roundTo rounds x to places decimals, halves toward +Inf. Shifting the
// decimal point in the textual form keeps values like 1.005 from rounding
// down through binary representation error.
func roundTo(x float64, places int) float64 {
	return shiftDecimal(math.Floor(shiftDecimal(x, places)+0.5), -places)
}

// shiftDecimal returns x * 10^places computed via the exponent of its
// shortest decimal representation.
func shiftDecimal(x float64, places int) float64 {
	s := strconv.FormatFloat(x, 'g', -1, 64)
	mantissa, exp := s, 0
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		mantissa = s[:i]
		n, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return x * math.Pow10(places)
		}
		exp = n
	}
	v, err := strconv.ParseFloat(mantissa+"e"+strconv.Itoa(exp+places), 64)
	if err != nil {
		return x * math.Pow10(places)
	}
	return v
}
