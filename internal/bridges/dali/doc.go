// Package dali bridges a DALI lighting gateway onto the local device model.
//
// The gateway exposes a REST API for authentication and panel actions and a
// WebSocket stream of instance value changes. This package provides:
//
//   - AuthClient: login and token refresh against /api/v1/auth
//   - TokenRefresher: periodic refresh persisting tokens to the settings store
//   - StreamClient: a receive-only stream consumer with a fixed-interval
//     reconnect timer, driven by a single state machine
//   - Dispatcher: maps stream values onto device capabilities
//   - Manager: owns the single live session and rebuilds it whenever
//     the gateway credentials change
//   - RESTClient: instance listing (pairing) and panel actions
//   - Bridge: MQTT command/ack/state/health plumbing
//
// # Session lifecycle
//
//	settings change → Manager.OnSettingsChanged
//	  → teardown (refresher stop, stream shutdown, reconnect cleared)
//	  → login → persist tokens → refresher start → stream open
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Session rebuilds are
// serialised by the Manager; stream state changes are serialised by the
// StreamClient.
package dali
