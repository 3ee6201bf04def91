// Package mqtt connects the DALI bridge to the Gray Logic MQTT bus.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect with capped backoff and subscription restoration
//   - a retained presence message: a Last Will published by the broker on
//     unexpected disconnect and an explicit offline message on Close
//   - input validation and panic recovery around message handlers
//
// Topic naming belongs to the bridge; this package only moves bytes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Presence{
//	    Topic:   dali.HealthTopic(),
//	    Will:    willPayload,
//	    Offline: offlinePayload,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/dali/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
