package settings

import "errors"

var (
	// ErrUnknownKey is returned when writing a key the bridge does not use.
	ErrUnknownKey = errors.New("settings: unknown key")

	// ErrReadOnlyKey is returned when an operator write targets a token key.
	ErrReadOnlyKey = errors.New("settings: key is managed by the session")
)
