//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_RoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "dali-bridge-int"

	client, err := Connect(cfg, Presence{
		Topic:   "graylogic/test/dali-presence",
		Will:    []byte(`{"status":"offline"}`),
		Offline: []byte(`{"status":"stopping"}`),
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	err = client.Subscribe("graylogic/test/dali/+", 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription("graylogic/test/dali/+") {
		t.Error("subscription not tracked")
	}

	if err := client.Publish("graylogic/test/dali/light", []byte("on"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "graylogic/test/dali/light on" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
