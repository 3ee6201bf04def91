package dali

import (
	"context"
	"testing"
)

func TestMultiSink(t *testing.T) {
	a, b := &eventRecorder{}, &eventRecorder{}
	sink := MultiSink(a, nil, b)

	sink.RecordEvent(context.Background(), "session_built", nil)

	if !a.Has("session_built") || !b.Has("session_built") {
		t.Error("event not delivered to every sink")
	}
}
