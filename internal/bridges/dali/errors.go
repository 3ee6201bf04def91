package dali

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for the DALI bridge package.
var (
	// ErrConfigIncomplete is returned when server_url, username or password
	// is missing from the settings store.
	ErrConfigIncomplete = errors.New("dali: gateway configuration incomplete")

	// ErrAlreadyRunning is returned when starting a component that is
	// already started.
	ErrAlreadyRunning = errors.New("dali: already running")

	// ErrDecodeFailed is returned when a gateway payload cannot be decoded.
	ErrDecodeFailed = errors.New("dali: decoding failed")

	// ErrNoAccessToken is returned when a REST call needs an access token
	// and none is stored.
	ErrNoAccessToken = errors.New("dali: no access token available")

	// ErrNoRefreshToken is returned when a refresh is attempted without a
	// stored refresh token.
	ErrNoRefreshToken = errors.New("dali: no refresh token available")

	// ErrInvalidLevel is returned when a dim level is outside 0..100.
	ErrInvalidLevel = errors.New("dali: level out of range")

	// ErrInvalidScene is returned when a scene id is negative.
	ErrInvalidScene = errors.New("dali: invalid scene id")

	// ErrShutdown is returned when using a stream client after Shutdown.
	ErrShutdown = errors.New("dali: stream client shut down")
)

// AuthError reports a failed login or token refresh.
// StatusCode is zero when the request never produced an HTTP response.
type AuthError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dali: %s failed: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dali: %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Rejected reports whether the gateway refused the supplied credentials
// or token, as opposed to a transport or server failure.
func (e *AuthError) Rejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// GatewayError reports a failed REST call other than login or refresh.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dali: %s failed: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dali: %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
