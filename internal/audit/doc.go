// Package audit stores the bridge's activity history in the audit_logs
// table: gateway session lifecycle events (session_built, login_failed,
// refresh_failed, ...) and operator changes made through the API.
package audit
