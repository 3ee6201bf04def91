// Package logging provides structured logging for the DALI bridge.
//
// It wraps log/slog so every entry carries the service name and build
// version, in JSON (production) or text (development) form:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	stream.SetLogger(logger.Component("stream"))
//
// Gateway passwords and tokens must never be logged.
package logging
