package dali

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// manualClock fires scheduled functions only when Tick is called.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

type manualTicker struct {
	interval time.Duration
	fn       func()
	stopped  bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Every(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{interval: d, fn: fn}
	c.tickers = append(c.tickers, t)
	return func() {
		c.mu.Lock()
		t.stopped = true
		c.mu.Unlock()
	}
}

// Tick advances time by the shortest active interval and fires every
// active ticker once.
func (c *manualClock) Tick() {
	c.mu.Lock()
	var active []*manualTicker
	var step time.Duration
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		active = append(active, t)
		if step == 0 || t.interval < step {
			step = t.interval
		}
	}
	c.now = c.now.Add(step)
	c.mu.Unlock()

	for _, t := range active {
		c.mu.Lock()
		stopped := t.stopped
		c.mu.Unlock()
		if !stopped {
			t.fn()
		}
	}
}

// Active returns the number of running tickers.
func (c *manualClock) Active() int {
	return len(c.Intervals())
}

// Intervals returns the intervals of the running tickers.
func (c *manualClock) Intervals() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.tickers {
		if !t.stopped {
			out = append(out, t.interval)
		}
	}
	return out
}

// fakeConn is an in-memory stream connection.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	controls []int
	remote   bool
}

var errRemoteGone = &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		c.mu.Lock()
		remote := c.remote
		c.mu.Unlock()
		if remote {
			return 0, nil, errRemoteGone
		}
		return 0, nil, net.ErrClosed
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	}
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Drop simulates the gateway going away.
func (c *fakeConn) Drop() {
	c.mu.Lock()
	c.remote = true
	c.mu.Unlock()
	c.Close() //nolint:errcheck
}

func (c *fakeConn) Send(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Controls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

// fakeDialer hands out fakeConns; queued errors fail the next dials.
type fakeDialer struct {
	mu    sync.Mutex
	fail  []error
	urls  []string
	conns []*fakeConn
}

var errDialRefused = errors.New("connection refused")

func (d *fakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = append(d.fail, errs...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.fail) > 0 {
		err := d.fail[0]
		d.fail = d.fail[1:]
		return nil, err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) LastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// fakeStore is an in-memory settings store. Like settings.Store it notifies
// on every credential write and on token changes.
type fakeStore struct {
	mu        sync.Mutex
	values    map[string]string
	listeners map[int]settings.Listener
	nextID    int
	writes    []string
	setErr    error
}

func newFakeStore(values map[string]string) *fakeStore {
	s := &fakeStore{values: map[string]string{}, listeners: map[int]settings.Listener{}}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func completeCreds() map[string]string {
	return map[string]string{
		settings.KeyServerURL: "h",
		settings.KeyUsername:  "u",
		settings.KeyPassword:  "p",
	}
}

func (s *fakeStore) Credentials() settings.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settings.Credentials{
		ServerURL:    s.values[settings.KeyServerURL],
		Username:     s.values[settings.KeyUsername],
		Password:     s.values[settings.KeyPassword],
		AccessToken:  s.values[settings.KeyAccessToken],
		RefreshToken: s.values[settings.KeyRefreshToken],
	}
}

func (s *fakeStore) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	if s.setErr != nil {
		s.mu.Unlock()
		return s.setErr
	}
	changed := s.values[key] != value
	s.values[key] = value
	s.writes = append(s.writes, key)
	var ls []settings.Listener
	if changed || settings.IsCredentialKey(key) {
		for _, l := range s.listeners {
			ls = append(ls, l)
		}
	}
	s.mu.Unlock()

	for _, l := range ls {
		l(key)
	}
	return nil
}

func (s *fakeStore) Subscribe(fn settings.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *fakeStore) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// fakeAuth scripts Authenticator results.
type fakeAuth struct {
	mu          sync.Mutex
	loginTokens Tokens
	loginErr    error
	refreshTok  Tokens
	refreshErr  error
	logins      []string // server|user|pass
	refreshes   []string // server|token
}

func (a *fakeAuth) Login(_ context.Context, server, user, pass string) (Tokens, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logins = append(a.logins, server+"|"+user+"|"+pass)
	return a.loginTokens, a.loginErr
}

func (a *fakeAuth) Refresh(_ context.Context, server, token string) (Tokens, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes = append(a.refreshes, server+"|"+token)
	return a.refreshTok, a.refreshErr
}

func (a *fakeAuth) Logins() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logins...)
}

func (a *fakeAuth) Refreshes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.refreshes...)
}

// eventRecorder implements EventSink.
type eventRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *eventRecorder) RecordEvent(_ context.Context, action string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *eventRecorder) Has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}
