package dali

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Stream client constants.
const (
	// DefaultReconnectInterval is the delay between reconnect attempts.
	DefaultReconnectInterval = 5 * time.Second

	// closeWriteTimeout bounds sending the close frame on Close.
	closeWriteTimeout = time.Second

	// MessageTypeVariableValue is the only frame type that is dispatched.
	MessageTypeVariableValue = "variableValue"
)

// StreamState is the connection state of a StreamClient.
type StreamState int32

// Stream states.
const (
	StateClosed StreamState = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s StreamState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// StreamMessage is one frame from the instance value stream.
type StreamMessage struct {
	MessageType   string  `json:"messageType"`
	InstanceID    int     `json:"instanceId"`
	VariableName  string  `json:"variableName"`
	VariableValue float64 `json:"variableValue"`
}

// UnmarshalJSON accepts frames without a numeric value unless they are
// variableValue frames, which must carry one.
func (m *StreamMessage) UnmarshalJSON(data []byte) error {
	var aux struct {
		MessageType   string          `json:"messageType"`
		InstanceID    int             `json:"instanceId"`
		VariableName  string          `json:"variableName"`
		VariableValue json.RawMessage `json:"variableValue"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.MessageType = aux.MessageType
	m.InstanceID = aux.InstanceID
	m.VariableName = aux.VariableName
	m.VariableValue = 0

	raw := bytes.TrimSpace(aux.VariableValue)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if aux.MessageType == MessageTypeVariableValue {
			return fmt.Errorf("variableValue frame without a value")
		}
		return nil
	}
	if err := json.Unmarshal(raw, &m.VariableValue); err != nil {
		if aux.MessageType == MessageTypeVariableValue {
			return fmt.Errorf("variableValue is not a number: %w", err)
		}
	}
	return nil
}

// Conn is a receive-only view of a WebSocket connection.
// It is satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the gateway stream with gorilla/websocket.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero means no limit
	// beyond the context.
	HandshakeTimeout time.Duration

	// ReadLimit caps the size of a single frame. Zero means no limit.
	ReadLimit int64
}

// Dial connects to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// MessageHandler receives decoded stream frames in arrival order.
type MessageHandler func(ctx context.Context, msg StreamMessage)

// StreamConfig holds the settings of a StreamClient.
type StreamConfig struct {
	// ServerURL is the gateway host[:port].
	ServerURL string

	Dialer  Dialer
	Handler MessageHandler

	// ReconnectInterval between attempts after an unexpected close.
	// Default: DefaultReconnectInterval.
	ReconnectInterval time.Duration

	Clock  Clock  // Default: SystemClock()
	Logger Logger // Optional
}

// StreamStats is a snapshot of stream activity.
type StreamStats struct {
	State             string     `json:"state"`
	Connected         bool       `json:"connected"`
	ConnectedSince    *time.Time `json:"connected_since,omitempty"`
	ReconnectPending  bool       `json:"reconnect_pending"`
	MessagesReceived  uint64     `json:"messages_received"`
	DecodeErrors      uint64     `json:"decode_errors"`
	Disconnects       uint64     `json:"disconnects"`
	ReconnectAttempts uint64     `json:"reconnect_attempts"`
	Reconnects        uint64     `json:"reconnects"`
	LastMessage       *time.Time `json:"last_message,omitempty"`
}

type streamEventKind int

const (
	evOpenRequested streamEventKind = iota
	evOpened
	evClosed
	evCloseRequested
	evShutdown
	evError
	evMessage
)

type streamEvent struct {
	kind streamEventKind
	gen  uint64
	conn Conn
	err  error
	data []byte
}

// StreamClient consumes the gateway's instance value stream.
//
// All state changes go through handleTransition. The dial and the read
// loop only produce events. After an unexpected close a reconnect timer
// calls Open every ReconnectInterval until an open succeeds; at most one
// such timer exists at a time.
type StreamClient struct {
	url      string
	dialer   Dialer
	handler  MessageHandler
	interval time.Duration
	clock    Clock
	logger   Logger

	// Lifetime context, cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          StreamState
	gen            uint64
	conn           Conn
	readDone       chan struct{}
	stopReconnect  func()
	shutdown       bool
	connectedSince time.Time

	messages          atomic.Uint64
	decodeErrors      atomic.Uint64
	disconnects       atomic.Uint64
	reconnectAttempts atomic.Uint64
	reconnects        atomic.Uint64
	lastMessage       atomic.Int64 // unix nanos, 0 = never
}

// NewStreamClient creates a stream client in the Closed state.
//
// Parameters:
//   - cfg: Server URL, dialer and frame handler. A nil Dialer uses
//     WebsocketDialer, a zero ReconnectInterval uses
//     DefaultReconnectInterval and a nil Clock uses the system clock.
//
// Returns:
//   - *StreamClient: Client ready for Open
func NewStreamClient(cfg StreamConfig) *StreamClient {
	ctx, cancel := context.WithCancel(context.Background())

	c := &StreamClient{
		url:      streamURL(cfg.ServerURL),
		dialer:   cfg.Dialer,
		handler:  cfg.Handler,
		interval: cfg.ReconnectInterval,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	if c.interval <= 0 {
		c.interval = DefaultReconnectInterval
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// URL returns the stream endpoint.
func (c *StreamClient) URL() string { return c.url }

// Open connects to the stream.
//
// It is a no-op unless the client is Closed. A failed dial counts as an
// unexpected close and schedules a reconnect.
//
// Parameters:
//   - ctx: Bounds the dial. Shutdown also aborts it.
//
// Returns:
//   - error: ErrShutdown after Shutdown, the dial error on failure,
//     nil otherwise
func (c *StreamClient) Open(ctx context.Context) error {
	if !c.handleTransition(streamEvent{kind: evOpenRequested}) {
		if c.isShutdown() {
			return ErrShutdown
		}
		return nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	dialCtx, cancel := mergeCancel(ctx, c.ctx)
	defer cancel()

	c.logger.Debug("opening gateway stream", "url", c.url)
	conn, err := c.dialer.Dial(dialCtx, c.url)
	if err != nil {
		c.handleTransition(streamEvent{kind: evError, gen: gen, err: err})
		c.handleTransition(streamEvent{kind: evClosed, gen: gen, err: err})
		return err
	}

	c.handleTransition(streamEvent{kind: evOpened, gen: gen, conn: conn})
	return nil
}

// Close closes an open stream and waits for the read loop to finish.
//
// It is a no-op unless the client is Open. No reconnect is scheduled;
// a reconnect timer that is already pending is left alone.
//
// Parameters:
//   - ctx: Bounds the wait for the read loop
//
// Returns:
//   - error: ctx.Err() if the read loop outlives ctx, nil otherwise
func (c *StreamClient) Close(ctx context.Context) error {
	if !c.handleTransition(streamEvent{kind: evCloseRequested}) {
		return nil
	}

	c.mu.Lock()
	done := c.readDone
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown permanently stops the client.
//
// It clears any pending reconnect timer, aborts an in-flight dial and
// closes the stream. Later calls to Open return ErrShutdown.
//
// Parameters:
//   - ctx: Bounds the wait for the read loop
//
// Returns:
//   - error: ctx.Err() if the read loop outlives ctx, nil otherwise
func (c *StreamClient) Shutdown(ctx context.Context) error {
	c.handleTransition(streamEvent{kind: evShutdown})
	return c.Close(ctx)
}

// State returns the current connection state.
func (c *StreamClient) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectPending reports whether a reconnect timer is scheduled.
func (c *StreamClient) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopReconnect != nil
}

// Stats returns a snapshot of stream activity.
func (c *StreamClient) Stats() StreamStats {
	c.mu.Lock()
	stats := StreamStats{
		State:            c.state.String(),
		Connected:        c.state == StateOpen,
		ReconnectPending: c.stopReconnect != nil,
	}
	if c.state == StateOpen {
		since := c.connectedSince.UTC()
		stats.ConnectedSince = &since
	}
	c.mu.Unlock()

	stats.MessagesReceived = c.messages.Load()
	stats.DecodeErrors = c.decodeErrors.Load()
	stats.Disconnects = c.disconnects.Load()
	stats.ReconnectAttempts = c.reconnectAttempts.Load()
	stats.Reconnects = c.reconnects.Load()
	if ns := c.lastMessage.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		stats.LastMessage = &t
	}
	return stats
}

func (c *StreamClient) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// handleTransition applies ev to the state machine under the lock, then
// runs the resulting side effects without it. It reports whether the
// event was accepted in the current state.
func (c *StreamClient) handleTransition(ev streamEvent) bool {
	c.mu.Lock()
	accepted, effects := c.transition(ev)
	c.mu.Unlock()

	for _, fx := range effects {
		fx()
	}
	return accepted
}

// transition must be called with c.mu held.
//
//nolint:gocognit,gocyclo // one switch keeps every state change in one place
func (c *StreamClient) transition(ev streamEvent) (bool, []func()) {
	switch ev.kind {
	case evOpenRequested:
		if c.shutdown || c.state != StateClosed {
			return false, nil
		}
		c.gen++
		c.state = StateOpening
		return true, nil

	case evOpened:
		conn := ev.conn
		if ev.gen != c.gen || c.state != StateOpening || c.shutdown {
			if ev.gen == c.gen && c.state == StateOpening {
				c.state = StateClosed
			}
			return false, []func(){func() { conn.Close() }} //nolint:errcheck // discarding a raced connection
		}

		c.state = StateOpen
		c.conn = conn
		c.connectedSince = c.clock.Now()
		done := make(chan struct{})
		c.readDone = done
		cleared := c.cancelReconnectLocked()
		if cleared {
			c.reconnects.Add(1)
		}
		gen := c.gen

		return true, []func(){
			func() { c.logger.Info("gateway stream connected", "url", c.url, "reconnect", cleared) },
			func() { go c.readLoop(conn, gen, done) },
		}

	case evClosed:
		if ev.gen != c.gen {
			return false, nil
		}
		switch c.state {
		case StateOpening, StateOpen:
			conn := c.conn
			wasOpen := c.state == StateOpen
			c.state = StateClosed
			c.conn = nil
			if wasOpen {
				c.disconnects.Add(1)
			}
			scheduled := c.scheduleReconnectLocked()
			effects := []func(){func() {
				c.logger.Warn("gateway stream closed unexpectedly",
					"reconnect_scheduled", scheduled,
					"interval", c.interval)
			}}
			if conn != nil {
				effects = append(effects, func() { conn.Close() }) //nolint:errcheck // already broken
			}
			return true, effects

		case StateClosing:
			c.state = StateClosed
			c.conn = nil
			return true, []func(){func() { c.logger.Info("gateway stream closed") }}

		default:
			return false, nil
		}

	case evCloseRequested:
		if c.state != StateOpen {
			return false, nil
		}
		c.state = StateClosing
		conn := c.conn
		return true, []func(){func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(closeWriteTimeout)) //nolint:errcheck // best-effort close frame
			conn.Close()                                                                        //nolint:errcheck // read loop reports the close
		}}

	case evShutdown:
		if c.shutdown {
			return false, nil
		}
		c.shutdown = true
		c.cancelReconnectLocked()
		return true, []func(){c.cancel}

	case evError:
		err := ev.err
		if ev.gen != 0 && ev.gen == c.gen && (c.state == StateOpen || c.state == StateOpening) {
			return true, []func(){func() { c.logger.Error("gateway stream error", "error", err) }}
		}
		// Errors surfacing while closing or from a superseded connection.
		return true, []func(){func() { c.logger.Debug("gateway stream error", "error", err) }}

	case evMessage:
		if ev.gen != c.gen || c.state != StateOpen {
			return false, nil
		}
		data, gen := ev.data, ev.gen
		return true, []func(){func() { c.deliver(gen, data) }}
	}

	return false, nil
}

// scheduleReconnectLocked starts the reconnect timer unless one is
// pending or the client is shut down.
func (c *StreamClient) scheduleReconnectLocked() bool {
	if c.stopReconnect != nil || c.shutdown {
		return false
	}
	c.stopReconnect = c.clock.Every(c.interval, c.reconnectTick)
	return true
}

func (c *StreamClient) cancelReconnectLocked() bool {
	if c.stopReconnect == nil {
		return false
	}
	c.stopReconnect()
	c.stopReconnect = nil
	return true
}

func (c *StreamClient) reconnectTick() {
	c.reconnectAttempts.Add(1)
	if err := c.Open(c.ctx); err != nil && !errors.Is(err, ErrShutdown) {
		c.logger.Debug("gateway stream reconnect attempt failed", "error", err)
	}
}

func (c *StreamClient) readLoop(conn Conn, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.handleTransition(streamEvent{kind: evError, gen: gen, err: err})
			}
			c.handleTransition(streamEvent{kind: evClosed, gen: gen, err: err})
			return
		}
		c.handleTransition(streamEvent{kind: evMessage, gen: gen, data: data})
	}
}

// deliver decodes one frame and hands it to the handler.
func (c *StreamClient) deliver(gen uint64, data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.decodeErrors.Add(1)
		c.handleTransition(streamEvent{kind: evError, gen: gen, err: fmt.Errorf("%w: %v", ErrDecodeFailed, err)})
		return
	}

	c.messages.Add(1)
	c.lastMessage.Store(c.clock.Now().UnixNano())

	if c.handler != nil {
		c.handler(c.ctx, msg)
	}
}

// mergeCancel returns a context that is done when either parent is done.
// Values and deadline come from primary.
func mergeCancel(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
