package dali

import "context"

// Logger is the logging interface used by this package.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventSink records session lifecycle events.
// It is satisfied by *audit.Recorder and *influxdb.Client; nil disables
// recording.
type EventSink interface {
	RecordEvent(ctx context.Context, action string, details map[string]any)
}

// MultiSink fans events out to every non-nil sink.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []EventSink

func (m multiSink) RecordEvent(ctx context.Context, action string, details map[string]any) {
	for _, s := range m {
		s.RecordEvent(ctx, action, details)
	}
}
