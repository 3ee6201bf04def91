package dali

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// DefaultRefreshInterval is how often the access token is refreshed.
const DefaultRefreshInterval = time.Hour

// CredentialStore is the part of the settings store the session uses.
// It is satisfied by *settings.Store.
type CredentialStore interface {
	Credentials() settings.Credentials
	Set(ctx context.Context, key, value string) error
}

// RefresherConfig holds the collaborators of a TokenRefresher.
type RefresherConfig struct {
	Auth  Authenticator
	Store CredentialStore

	// Interval between refreshes. Default: DefaultRefreshInterval.
	Interval time.Duration

	// ReloginOnRejected falls back to a full login when the gateway
	// rejects the refresh token with 401 or 403.
	ReloginOnRejected bool

	Clock  Clock     // Default: SystemClock()
	Events EventSink // Optional
	Logger Logger    // Optional
}

// RefresherStats is a snapshot of refresh activity.
type RefresherStats struct {
	Running     bool       `json:"running"`
	Refreshes   uint64     `json:"refreshes"`
	Relogins    uint64     `json:"relogins"`
	Failures    uint64     `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// TokenRefresher refreshes the gateway access token on a fixed interval,
// starting from the moment it is started.
type TokenRefresher struct {
	auth     Authenticator
	store    CredentialStore
	interval time.Duration
	relogin  bool
	clock    Clock
	events   EventSink
	logger   Logger

	mu     sync.Mutex
	stop   func()
	cancel context.CancelFunc

	refreshes   atomic.Uint64
	relogins    atomic.Uint64
	failures    atomic.Uint64
	lastSuccess atomic.Int64 // unix nanos, 0 = never
}

// NewTokenRefresher creates a stopped refresher.
//
// Parameters:
//   - cfg: Authenticator, settings store and refresh interval. A zero
//     Interval uses DefaultRefreshInterval.
//
// Returns:
//   - *TokenRefresher: Refresher ready for Start
func NewTokenRefresher(cfg RefresherConfig) *TokenRefresher {
	r := &TokenRefresher{
		auth:     cfg.Auth,
		store:    cfg.Store,
		interval: cfg.Interval,
		relogin:  cfg.ReloginOnRejected,
		clock:    cfg.Clock,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
	if r.interval <= 0 {
		r.interval = DefaultRefreshInterval
	}
	if r.clock == nil {
		r.clock = SystemClock()
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Start schedules refreshes every interval. The first refresh happens one
// interval after Start. Refreshes in flight are cancelled by Stop or by
// cancellation of ctx.
func (r *TokenRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stop = r.clock.Every(r.interval, func() {
		r.RefreshNow(runCtx) //nolint:errcheck // logged inside
	})

	r.logger.Debug("token refresher started", "interval", r.interval)
	return nil
}

// Stop cancels the schedule. Safe to call multiple times.
func (r *TokenRefresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return
	}
	r.stop()
	r.cancel()
	r.stop = nil
	r.cancel = nil

	r.logger.Debug("token refresher stopped")
}

// Running reports whether the schedule is active.
func (r *TokenRefresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

// RefreshNow performs one refresh cycle immediately.
//
// Without a stored refresh token nothing is sent. A successful refresh
// persists the access token, and the refresh token only when the gateway
// rotated it. Failures leave the stored tokens untouched.
func (r *TokenRefresher) RefreshNow(ctx context.Context) error {
	creds := r.store.Credentials()
	if creds.RefreshToken == "" {
		r.failures.Add(1)
		r.logger.Error("token refresh skipped", "error", ErrNoRefreshToken)
		return ErrNoRefreshToken
	}

	tokens, err := r.auth.Refresh(ctx, creds.ServerURL, creds.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if r.relogin && errors.As(err, &authErr) && authErr.Rejected() {
			r.logger.Warn("refresh token rejected, logging in again",
				"status", authErr.StatusCode)
			r.relogins.Add(1)
			tokens, err = r.auth.Login(ctx, creds.ServerURL, creds.Username, creds.Password)
		}
	}
	if err != nil {
		r.failures.Add(1)
		r.logger.Error("token refresh failed", "error", err)
		r.record(ctx, "refresh_failed", map[string]any{"error": err.Error()})
		return err
	}

	// A Stop during the request means this session is gone; its tokens
	// must not overwrite those of a replacement.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := persistTokens(ctx, r.store, tokens); err != nil {
		r.failures.Add(1)
		r.logger.Error("persisting refreshed tokens failed", "error", err)
		return err
	}

	r.refreshes.Add(1)
	r.lastSuccess.Store(r.clock.Now().UnixNano())
	r.logger.Info("access token refreshed", "rotated", tokens.RefreshToken != "")
	return nil
}

// Stats returns a snapshot of refresh activity.
func (r *TokenRefresher) Stats() RefresherStats {
	stats := RefresherStats{
		Running:   r.Running(),
		Refreshes: r.refreshes.Load(),
		Relogins:  r.relogins.Load(),
		Failures:  r.failures.Load(),
	}
	if ns := r.lastSuccess.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		stats.LastSuccess = &t
	}
	return stats
}

func (r *TokenRefresher) record(ctx context.Context, action string, details map[string]any) {
	if r.events != nil {
		r.events.RecordEvent(context.WithoutCancel(ctx), action, details)
	}
}

// persistTokens writes the access token and, when present, the refresh token.
func persistTokens(ctx context.Context, store CredentialStore, tokens Tokens) error {
	if err := store.Set(ctx, settings.KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if err := store.Set(ctx, settings.KeyRefreshToken, tokens.RefreshToken); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}
	return nil
}
