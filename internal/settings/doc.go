// Package settings is the bridge's persistent key-value store for gateway
// credentials and tokens.
//
// The operator writes server_url, username and password (through the HTTP
// API or the config seed). The session manager is the only writer of
// access_token and refresh_token. Every successful write that changes a
// value is announced to subscribers, which is how a credential edit
// triggers a session rebuild.
//
//	store, err := settings.NewStore(ctx, db.DB)
//	unsubscribe := store.Subscribe(func(key string) {
//	    manager.OnSettingsChanged(ctx, key)
//	})
//	defer unsubscribe()
package settings
