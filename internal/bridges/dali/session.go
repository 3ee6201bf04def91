package dali

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// teardownTimeout bounds waiting for the stream read loop on teardown.
const teardownTimeout = 5 * time.Second

// SettingsStore is the settings store as seen by the Manager.
// It is satisfied by *settings.Store.
type SettingsStore interface {
	CredentialStore
	Subscribe(fn settings.Listener) (unsubscribe func())
}

// ManagerConfig holds the collaborators and timings of a Manager.
type ManagerConfig struct {
	Store SettingsStore
	Auth  Authenticator

	// Dialer opens stream connections. Default: WebsocketDialer{}.
	Dialer Dialer

	// Handler receives stream frames, normally Dispatcher.Dispatch.
	Handler MessageHandler

	RefreshInterval          time.Duration
	ReconnectInterval        time.Duration
	ReloginOnRejectedRefresh bool

	Clock  Clock     // Default: SystemClock()
	Events EventSink // Optional
	Logger Logger    // Optional
}

// session is one authenticated connection to the gateway.
type session struct {
	serverURL     string
	authenticated bool
	startedAt     time.Time
	refresher     *TokenRefresher
	stream        *StreamClient
}

// Status is a snapshot of the Manager for health and API reporting.
type Status struct {
	Configured       bool            `json:"configured"`
	Active           bool            `json:"active"`
	Authenticated    bool            `json:"authenticated"`
	ServerURL        string          `json:"server_url,omitempty"`
	SessionStartedAt *time.Time      `json:"session_started_at,omitempty"`
	TokenExpiresAt   *time.Time      `json:"token_expires_at,omitempty"`
	Stream           *StreamStats    `json:"stream,omitempty"`
	Refresher        *RefresherStats `json:"refresher,omitempty"`
	Builds           uint64          `json:"builds"`
	Teardowns        uint64          `json:"teardowns"`
}

// Manager owns the single live gateway session.
//
// A session is built from the credentials in the settings store and
// replaced whenever server_url, username or password changes. The old
// session is always fully torn down (refresher stopped, stream shut
// down, reconnect timer cleared) before its replacement is built.
// Session changes are serialised by mu.
type Manager struct {
	cfg    ManagerConfig
	clock  Clock
	logger Logger

	// Lifetime context for sessions, cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current atomic.Pointer[session]

	// lifeMu guards started, stopped and wg.Add against Stop.
	lifeMu      sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
	wg          sync.WaitGroup

	builds    atomic.Uint64
	teardowns atomic.Uint64
}

// NewManager creates a Manager.
//
// Call Start to subscribe to settings changes and build the first session.
//
// Parameters:
//   - cfg: Settings store and authenticator are required. A nil Dialer
//     uses WebsocketDialer, a nil Clock the system clock.
//
// Returns:
//   - *Manager: Stopped manager
//   - error: If Store or Auth is missing
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("settings store is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to settings changes and, if the gateway credentials
// are complete, builds the first session.
//
// A failed login is logged and does not fail Start; the next credential
// write retries it.
//
// Parameters:
//   - ctx: Bounds the first login and stream dial
//
// Returns:
//   - error: ErrAlreadyRunning on a second call, nil otherwise
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.started {
		m.lifeMu.Unlock()
		return ErrAlreadyRunning
	}
	m.started = true
	m.unsubscribe = m.cfg.Store.Subscribe(m.onStoreChange)
	m.lifeMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	creds := m.cfg.Store.Credentials()
	if !creds.Complete() {
		m.logger.Info("gateway configuration incomplete, waiting for settings",
			"missing", missingFields(creds))
		return nil
	}

	m.buildLocked(ctx, creds)
	return nil
}

// OnSettingsChanged reacts to a write of key.
//
// Only server_url, username and password matter. With complete
// credentials the session is rebuilt, otherwise the current session is
// torn down. Other keys are ignored.
//
// Parameters:
//   - ctx: Bounds the login and stream dial of the rebuilt session
//   - key: Settings key that was written
func (m *Manager) OnSettingsChanged(ctx context.Context, key string) {
	if !settings.IsCredentialKey(key) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isStopped() {
		return
	}

	m.logger.Info("gateway settings changed", "key", key)
	m.record(ctx, "settings_changed", map[string]any{"key": key})

	creds := m.cfg.Store.Credentials()
	if !creds.Complete() {
		m.logger.Info("gateway configuration incomplete",
			"missing", missingFields(creds))
		m.teardownLocked(ctx, "configuration incomplete")
		return
	}

	m.teardownLocked(ctx, "settings changed")
	m.buildLocked(ctx, creds)
}

// Stop tears down the current session and stops reacting to settings
// changes. Safe to call multiple times.
func (m *Manager) Stop(ctx context.Context) {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return
	}
	m.stopped = true
	unsubscribe := m.unsubscribe
	m.lifeMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	// Abort a login or dial in progress so mu is released promptly.
	m.cancel()

	m.mu.Lock()
	m.teardownLocked(ctx, "shutdown")
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("gateway session manager stopped")
}

// Status returns a snapshot of the current session.
func (m *Manager) Status() Status {
	creds := m.cfg.Store.Credentials()
	st := Status{
		Configured: creds.Complete(),
		Builds:     m.builds.Load(),
		Teardowns:  m.teardowns.Load(),
	}

	s := m.current.Load()
	if s == nil {
		return st
	}

	refresher := s.refresher.Stats()
	stream := s.stream.Stats()
	started := s.startedAt.UTC()

	st.Active = true
	st.Authenticated = s.authenticated || refresher.Refreshes > 0
	st.ServerURL = s.serverURL
	st.SessionStartedAt = &started
	st.TokenExpiresAt = tokenExpiry(creds.AccessToken)
	st.Stream = &stream
	st.Refresher = &refresher
	return st
}

// Stream returns the live session's stream client, or nil.
func (m *Manager) Stream() *StreamClient {
	if s := m.current.Load(); s != nil {
		return s.stream
	}
	return nil
}

// Refresher returns the live session's token refresher, or nil.
func (m *Manager) Refresher() *TokenRefresher {
	if s := m.current.Load(); s != nil {
		return s.refresher
	}
	return nil
}

// onStoreChange is the settings listener. It runs on the writer's
// goroutine, so it filters before touching any Manager lock: the
// Manager's own token writes land here too.
func (m *Manager) onStoreChange(key string) {
	if !settings.IsCredentialKey(key) {
		return
	}

	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return
	}
	m.wg.Add(1)
	m.lifeMu.Unlock()

	go func() {
		defer m.wg.Done()
		m.OnSettingsChanged(m.ctx, key)
	}()
}

func (m *Manager) isStopped() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.stopped
}

// buildLocked logs in, persists the tokens, starts the refresher and opens
// the stream. The refresher and stream start even when login fails.
// Must be called with m.mu held and no live session.
func (m *Manager) buildLocked(ctx context.Context, creds settings.Credentials) {
	s := &session{
		serverURL: creds.ServerURL,
		startedAt: m.clock.Now(),
	}

	loginCtx, cancel := mergeCancel(ctx, m.ctx)
	tokens, err := m.cfg.Auth.Login(loginCtx, creds.ServerURL, creds.Username, creds.Password)
	cancel()

	switch {
	case err != nil:
		m.logger.Error("gateway login failed", "server", creds.ServerURL, "error", err)
		m.record(ctx, "login_failed", map[string]any{
			"server_url": creds.ServerURL,
			"error":      err.Error(),
		})
	case m.ctx.Err() != nil:
		// Stopped while logging in.
	default:
		if err := persistTokens(m.ctx, m.cfg.Store, tokens); err != nil {
			m.logger.Error("persisting gateway tokens failed", "error", err)
		} else {
			s.authenticated = true
		}
	}

	s.refresher = NewTokenRefresher(RefresherConfig{
		Auth:              m.cfg.Auth,
		Store:             m.cfg.Store,
		Interval:          m.cfg.RefreshInterval,
		ReloginOnRejected: m.cfg.ReloginOnRejectedRefresh,
		Clock:             m.clock,
		Events:            m.cfg.Events,
		Logger:            m.logger,
	})
	if err := s.refresher.Start(m.ctx); err != nil {
		m.logger.Error("starting token refresher failed", "error", err)
	}

	s.stream = NewStreamClient(StreamConfig{
		ServerURL:         creds.ServerURL,
		Dialer:            m.cfg.Dialer,
		Handler:           m.cfg.Handler,
		ReconnectInterval: m.cfg.ReconnectInterval,
		Clock:             m.clock,
		Logger:            m.logger,
	})
	if err := s.stream.Open(m.ctx); err != nil {
		m.logger.Warn("gateway stream not opened, reconnect scheduled", "error", err)
	}

	m.current.Store(s)
	m.builds.Add(1)

	m.logger.Info("gateway session established",
		"server", creds.ServerURL,
		"authenticated", s.authenticated,
		"stream", s.stream.State().String())
	m.record(ctx, "session_built", map[string]any{
		"server_url":    creds.ServerURL,
		"authenticated": s.authenticated,
	})
}

// teardownLocked stops the live session, if any. Must be called with m.mu held.
func (m *Manager) teardownLocked(ctx context.Context, reason string) {
	s := m.current.Swap(nil)
	if s == nil {
		return
	}

	s.refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := s.stream.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("gateway stream shutdown incomplete", "error", err)
	}

	m.teardowns.Add(1)
	m.logger.Info("gateway session torn down", "server", s.serverURL, "reason", reason)
	m.record(ctx, "session_torn_down", map[string]any{
		"server_url": s.serverURL,
		"reason":     reason,
	})
}

func (m *Manager) record(ctx context.Context, action string, details map[string]any) {
	if m.cfg.Events != nil {
		m.cfg.Events.RecordEvent(context.WithoutCancel(ctx), action, details)
	}
}

// missingFields names the unset credential keys.
func missingFields(c settings.Credentials) []string {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, settings.KeyServerURL)
	}
	if c.Username == "" {
		missing = append(missing, settings.KeyUsername)
	}
	if c.Password == "" {
		missing = append(missing, settings.KeyPassword)
	}
	return missing
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. The result is informational only.
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.UTC()
	return &t
}
