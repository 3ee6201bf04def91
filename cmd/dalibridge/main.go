// DALI Bridge - gateway session and device bridge for Gray Logic
//
// This is the main entry point for the DALI bridge. It keeps one
// authenticated session with a DALI lighting gateway, mirrors paired
// gateway instances as local devices, and exposes them over MQTT and a
// REST/WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-dali/internal/api"
	"github.com/nerrad567/gray-logic-dali/internal/audit"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/device"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dali/internal/settings"
	"github.com/nerrad567/gray-logic-dali/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Deferred cleanup runs in reverse start order: API, session, bridge,
// MQTT, InfluxDB, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting DALI bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Settings store, seeded from the config file on first start
	store, err := settings.NewStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if seedErr := seedSettings(ctx, store, cfg.Gateway); seedErr != nil {
		return fmt.Errorf("seeding settings: %w", seedErr)
	}

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("device"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetStats().TotalDevices)

	// Audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"))
	sinks := []dali.EventSink{recorder}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		removeInflux := registry.AddObserver(influxClient.ObserveStateChange)
		defer removeInflux()
		sinks = append(sinks, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT, with the bridge's offline health as Last Will
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	// Gateway session
	dispatcher := dali.NewDispatcher(registry, log.Component("dali.dispatcher"))
	dialer := dali.WebsocketDialer{
		HandshakeTimeout: cfg.Gateway.GetHandshakeTimeout(),
		ReadLimit:        cfg.Gateway.MaxFrameSize,
	}
	manager, err := dali.NewManager(dali.ManagerConfig{
		Store:                    store,
		Auth:                     dali.NewAuthClient(cfg.Gateway.GetRequestTimeout()),
		Dialer:                   dialer,
		Handler:                  dispatcher.Dispatch,
		RefreshInterval:          cfg.Gateway.GetRefreshInterval(),
		ReconnectInterval:        cfg.Gateway.GetReconnectInterval(),
		ReloginOnRejectedRefresh: cfg.Gateway.ReloginOnRejectedRefresh,
		Events:                   dali.MultiSink(sinks...),
		Logger:                   log.Component("dali.session"),
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	gateway := dali.NewRESTClient(store, cfg.Gateway.GetRequestTimeout())

	// MQTT bridge; started before the session so the first stream frames
	// are already published.
	bridge, err := dali.NewBridge(dali.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.Bridge.GetHealthInterval(),
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Actions:        gateway,
		Devices:        registry,
		Session:        manager,
		Logger:         log.Component("dali.bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating DALI bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting DALI bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping DALI bridge")
		bridge.Stop()
	}()

	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting session manager: %w", startErr)
	}
	defer func() {
		log.Info("stopping gateway session")
		manager.Stop(context.Background())
	}()

	// API
	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Settings: store,
		Registry: registry,
		Devices:  bridge,
		Session:  manager,
		Pairing:  gateway,
		Audit:    auditRepo,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses DALIBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DALIBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedSettings copies gateway credentials from the config file into the
// settings store. Keys already present in the store are left alone.
func seedSettings(ctx context.Context, store *settings.Store, gw config.GatewayConfig) error {
	seeds := []struct{ key, value string }{
		{settings.KeyServerURL, gw.ServerURL},
		{settings.KeyUsername, gw.Username},
		{settings.KeyPassword, gw.Password},
	}
	for _, s := range seeds {
		if err := store.SetDefault(ctx, s.key, s.value); err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
	}
	return nil
}

// connectMQTT connects to the broker with the bridge's offline health
// message registered as Last Will and published again on a clean close.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	presence, err := healthPresence(cfg.Bridge.ID)
	if err != nil {
		return nil, err
	}

	client, err := mqtt.Connect(cfg.MQTT, presence)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// healthPresence builds the retained offline payloads for the health topic.
func healthPresence(bridgeID string) (mqtt.Presence, error) {
	will, err := json.Marshal(dali.NewOfflineMessage(bridgeID, version, "unexpected_disconnect"))
	if err != nil {
		return mqtt.Presence{}, fmt.Errorf("encoding last will: %w", err)
	}
	offline, err := json.Marshal(dali.NewOfflineMessage(bridgeID, version, "shutdown"))
	if err != nil {
		return mqtt.Presence{}, fmt.Errorf("encoding offline status: %w", err)
	}
	return mqtt.Presence{
		Topic:   dali.HealthTopic(),
		Will:    will,
		Offline: offline,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the DALI
// bridge's MQTTClient interface. The difference is the handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - DALI bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client interface {
		Publish(topic string, payload []byte, qos byte, retained bool) error
		Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
		IsConnected() bool
	}
}

// Publish implements dali.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements dali.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements dali.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

var _ dali.MQTTClient = (*mqttBridgeAdapter)(nil)
