package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 100

// ValidateDevice checks a device before it is persisted.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateKind(d.Kind); err != nil {
		return err
	}
	if err := ValidateExternalID(d.ExternalID); err != nil {
		return err
	}

	for _, c := range d.Capabilities {
		if !kindCarries(d.Kind, c) {
			return fmt.Errorf("%w: %s does not carry %q", ErrInvalidCapability, d.Kind, c)
		}
	}
	for k, v := range d.State {
		if _, err := NormalizeValue(Capability(k), v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName rejects empty or overlong names.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// ValidateKind rejects unknown kinds.
func ValidateKind(kind Kind) error {
	for _, k := range AllKinds() {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}

// ValidateExternalID requires the decimal form of a gateway instanceId.
func ValidateExternalID(id string) error {
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 || strconv.Itoa(n) != id {
		return fmt.Errorf("%w: external id %q is not an instance id", ErrInvalidDevice, id)
	}
	return nil
}

// NormalizeValue checks v against the type and range of capability c and
// returns it in canonical form: bool for onoff, float64 for dim.
func NormalizeValue(c Capability, v any) (any, error) {
	switch c {
	case CapOnOff:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: onoff wants bool, got %T", ErrInvalidValue, v)
		}
		return b, nil
	case CapDim:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: dim wants number, got %T", ErrInvalidValue, v)
		}
		if math.IsNaN(f) || f < 0 || f > 1 {
			return nil, fmt.Errorf("%w: dim %v outside [0, 1]", ErrInvalidValue, f)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCapability, c)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func kindCarries(kind Kind, c Capability) bool {
	for _, have := range CapabilitiesFor(kind) {
		if have == c {
			return true
		}
	}
	return false
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
