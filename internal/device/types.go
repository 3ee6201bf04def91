package device

import "time"

// Kind classifies a paired DALI device by how the gateway exposes it.
type Kind string

// Device kinds.
const (
	KindDimmable Kind = "dimmable"
	KindGroup    Kind = "group"
	KindBistable Kind = "bistable"
	KindScene    Kind = "scene"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindDimmable, KindGroup, KindBistable, KindScene}
}

// Capability is a value a device exposes to the rest of the system.
type Capability string

// Capabilities.
const (
	// CapOnOff holds a bool.
	CapOnOff Capability = "onoff"

	// CapDim holds a float64 in [0, 1].
	CapDim Capability = "dim"
)

// CapabilitiesFor returns the capability set a device of kind carries.
// Scene controllers are action-only and carry none.
func CapabilitiesFor(kind Kind) []Capability {
	switch kind {
	case KindDimmable, KindGroup:
		return []Capability{CapOnOff, CapDim}
	case KindBistable:
		return []Capability{CapOnOff}
	default:
		return nil
	}
}

// State maps capability names to their last known values.
type State map[string]any

// Device is a locally registered virtual device mirroring one gateway instance.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// ExternalID is the gateway's instanceId rendered as a decimal string.
	ExternalID string `json:"external_id"`

	Capabilities   []Capability `json:"capabilities"`
	State          State        `json:"state"`
	StateUpdatedAt *time.Time   `json:"state_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapability reports whether the device exposes c.
func (d *Device) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// DeepCopy returns an independent copy; the registry hands these out so
// callers can never mutate cached devices.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.Capabilities != nil {
		cpy.Capabilities = append([]Capability(nil), d.Capabilities...)
	}
	if d.State != nil {
		cpy.State = make(State, len(d.State))
		for k, v := range d.State {
			cpy.State[k] = v // values are bool or float64
		}
	}
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		cpy.StateUpdatedAt = &t
	}
	return &cpy
}

// StateChange describes one capability value written through the registry.
type StateChange struct {
	DeviceID   string     `json:"device_id"`
	ExternalID string     `json:"external_id"`
	Kind       Kind       `json:"kind"`
	Capability Capability `json:"capability"`
	Value      any        `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}
