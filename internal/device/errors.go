package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when pairing an instance that is already
	// paired as the same kind.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidKind is returned when a kind value is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidCapability is returned when a capability is unknown or not
	// carried by the target device.
	ErrInvalidCapability = errors.New("device: invalid capability")

	// ErrInvalidValue is returned when a capability value has the wrong
	// type or is out of range.
	ErrInvalidValue = errors.New("device: invalid capability value")
)
