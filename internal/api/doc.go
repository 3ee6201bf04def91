// Package api implements the bridge's local HTTP REST API and WebSocket
// state push.
//
// It lets an installer configure gateway credentials, pair gateway
// instances as devices, drive their capabilities and inspect the gateway
// session and its audit trail:
//
//	GET  /api/v1/health                   component health
//	GET  /api/v1/status                   gateway session status
//	GET  /api/v1/settings                 settings, secrets redacted
//	PUT  /api/v1/settings                 write credentials (rebuilds the session)
//	GET  /api/v1/devices                  paired devices (?kind=)
//	POST /api/v1/devices                  pair an instance
//	GET  /api/v1/devices/{id}
//	DELETE /api/v1/devices/{id}
//	PUT  /api/v1/devices/{id}/capabilities/{capability}
//	POST /api/v1/devices/{id}/toggle
//	GET  /api/v1/pairing/{kind}           gateway instances offered for pairing
//	POST /api/v1/scenes/{id}/{scene}/recall
//	GET  /api/v1/audit                    session and operator history
//	GET  /api/v1/ws                       device state events
//
// Capability writes are forwarded to the gateway and answered with 202;
// the device state changes when the gateway echoes the value on its
// stream, and that change is pushed to WebSocket subscribers of
// "device.state_changed".
package api
