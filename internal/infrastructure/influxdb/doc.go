// Package influxdb records DALI device state history in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// The bridge registers Client.ObserveStateChange with the device registry
// so every echoed gateway value becomes a point in the device_state
// measurement, and Client.RecordEvent receives session lifecycle events.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	remove := registry.AddObserver(client.ObserveStateChange)
//	defer remove()
package influxdb
