// Package device is the local registry of paired DALI devices.
//
// Each Device mirrors one gateway instance (ExternalID is its instanceId)
// and carries a capability set fixed by its Kind:
//
//	dimmable, group  onoff (bool), dim (float64 in [0, 1])
//	bistable         onoff (bool)
//	scene            none (actions only)
//
// The Registry caches devices over a Repository (SQLite in production) and
// is the single write path for capability values. SetCapability persists
// the value and notifies observers, which publish state to MQTT, push it
// to WebSocket clients and record it in InfluxDB.
//
//	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	remove := registry.AddObserver(func(c device.StateChange) { ... })
//	defer remove()
package device
