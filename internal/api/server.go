package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/audit"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/device"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// gracefulShutdownTimeout bounds waiting for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceController forwards capability writes to the gateway.
// It is satisfied by *dali.Bridge.
type DeviceController interface {
	SetCapability(ctx context.Context, deviceID string, capability device.Capability, value any) error
	Toggle(ctx context.Context, deviceID string) error
	RecallScene(ctx context.Context, deviceID string, sceneID int) error
}

// SessionStatus reports the gateway session. It is satisfied by *dali.Manager.
type SessionStatus interface {
	Status() dali.Status
}

// CandidateLister lists gateway instances offered for pairing.
// It is satisfied by *dali.RESTClient.
type CandidateLister interface {
	Candidates(ctx context.Context, kind device.Kind) ([]dali.Candidate, error)
}

// HealthChecker is implemented by infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Settings *settings.Store
	Registry *device.Registry
	Devices  DeviceController
	Session  SessionStatus
	Pairing  CandidateLister
	Audit    audit.Repository

	// Checks are reported by /health, keyed by component name. Optional.
	Checks map[string]HealthChecker

	Version string
}

// Server is the bridge's HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	settings *settings.Store
	registry *device.Registry
	devices  DeviceController
	session  SessionStatus
	pairing  CandidateLister
	audit    audit.Repository
	recorder *audit.Recorder
	checks   map[string]HealthChecker
	version  string

	server         *http.Server
	hub            *Hub
	removeObserver func()
	cancel         context.CancelFunc
}

// New creates a server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device controller is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		settings: deps.Settings,
		registry: deps.Registry,
		devices:  deps.Devices,
		session:  deps.Session,
		pairing:  deps.Pairing,
		audit:    deps.Audit,
		checks:   deps.Checks,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}
	if deps.Audit != nil {
		s.recorder = audit.NewRecorder(deps.Audit, deps.Logger)
	}
	return s, nil
}

// Start wires device state changes into the WebSocket hub and begins
// listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.removeObserver = s.registry.AddObserver(s.broadcastStateChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops pushing state and shuts the listener down gracefully.
func (s *Server) Close() error {
	if s.removeObserver != nil {
		s.removeObserver()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// broadcastStateChange pushes a registry change to WebSocket subscribers.
func (s *Server) broadcastStateChange(change device.StateChange) {
	s.hub.Broadcast(ChannelDeviceState, change)
}

// recordChange writes an operator change to the audit log, if configured.
func (s *Server) recordChange(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordChange(ctx, action, entityType, entityID, details)
}
