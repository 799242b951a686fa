// Package transport owns the duplex WebSocket to the voice backend: dialing,
// the read loop, heartbeats, outbound framing, and the recovery policy.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rbright/voicebridge/internal/fsm"
	"github.com/rbright/voicebridge/internal/protocol"
)

// ErrTransport marks dial, read, and write failures on the backend connection.
var ErrTransport = errors.New("transport failure")

const (
	DefaultPath           = "/ws"
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultHeartbeat      = 15 * time.Second
	DefaultRecoveryDelay  = 2 * time.Second
	DefaultMaxRetries     = 5
	DefaultBackoffMax     = 30 * time.Second
	DefaultMaxMessageSize = 8 * 1024 * 1024
	closeGracePeriod      = time.Second
)

// Mode selects what happens after the connection drops.
type Mode string

const (
	// ModeReload waits the recovery delay, resets session state, and redials indefinitely.
	ModeReload Mode = "reload"
	// ModeReconnect redials with bounded exponential backoff and keeps session state.
	ModeReconnect Mode = "reconnect"
	// ModeOff stays disconnected after a drop.
	ModeOff Mode = "off"
)

// Recovery configures the reconnection policy.
type Recovery struct {
	Mode       Mode
	Delay      time.Duration
	MaxRetries int
	BackoffMax time.Duration
	// PreserveLog skips OnReset in reconnect mode. Reload always resets.
	PreserveLog bool
}

func (r Recovery) resets() bool {
	switch r.Mode {
	case ModeReload:
		return true
	case ModeReconnect:
		return !r.PreserveLog
	default:
		return false
	}
}

// Config configures one Manager.
type Config struct {
	Origin         string
	Path           string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	Heartbeat      time.Duration
	MaxMessageSize int64
	Recovery       Recovery
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Recovery.Mode == "" {
		c.Recovery.Mode = ModeReload
	}
	if c.Recovery.Delay <= 0 {
		c.Recovery.Delay = DefaultRecoveryDelay
	}
	if c.Recovery.MaxRetries <= 0 {
		c.Recovery.MaxRetries = DefaultMaxRetries
	}
	if c.Recovery.BackoffMax <= 0 {
		c.Recovery.BackoffMax = DefaultBackoffMax
	}
}

// Hooks receive connection lifecycle events. Any hook may be nil.
// OnMessage runs on the read loop, one frame at a time in arrival order.
type Hooks struct {
	OnOpen    func()
	OnMessage func(frame []byte)
	// OnClose fires when an open connection ends. err is nil for a normal closure.
	OnClose func(err error)
	OnError func(err error)
	// OnReset fires before the connection is re-established when the
	// recovery policy discards session state.
	OnReset func()
}

// Stats counts outbound and inbound frames.
type Stats struct {
	Sent     int64
	Dropped  int64
	Received int64
	Dials    int64
}

// Endpoint derives the WebSocket URL from a page origin:
// https://host -> wss://host/ws, http://host -> ws://host/ws.
func Endpoint(origin string, path string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", errors.New("origin is empty")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", origin, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("origin %q must use http or https", origin)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Manager owns at most one live connection at a time.
type Manager struct {
	cfg    Config
	url    string
	hooks  Hooks
	logger *slog.Logger
	dialer websocket.Dialer

	mu     sync.Mutex
	state  fsm.State
	conn   *websocket.Conn
	cancel context.CancelFunc

	writeMu sync.Mutex

	sent     atomic.Int64
	dropped  atomic.Int64
	received atomic.Int64
	dials    atomic.Int64
}

// NewManager validates the endpoint and prepares a disconnected Manager.
func NewManager(cfg Config, hooks Hooks, logger *slog.Logger) (*Manager, error) {
	cfg.defaults()
	endpoint, err := Endpoint(cfg.Origin, cfg.Path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch cfg.Recovery.Mode {
	case ModeReload, ModeReconnect, ModeOff:
	default:
		return nil, fmt.Errorf("unsupported recovery mode %q", cfg.Recovery.Mode)
	}

	return &Manager{
		cfg:    cfg,
		url:    endpoint,
		hooks:  hooks,
		logger: logger.With("component", "transport", "endpoint", endpoint),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		},
		state: fsm.StateDisconnected,
	}, nil
}

// URL returns the derived WebSocket endpoint.
func (m *Manager) URL() string {
	return m.url
}

// State returns the current lifecycle state.
func (m *Manager) State() fsm.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a connection is open.
func (m *Manager) Connected() bool {
	return m.State() == fsm.StateConnected
}

// Stats returns a snapshot of frame counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:     m.sent.Load(),
		Dropped:  m.dropped.Load(),
		Received: m.received.Load(),
		Dials:    m.dials.Load(),
	}
}

// Run dials the backend and keeps the connection alive according to the
// recovery policy until ctx is cancelled, Close is called, or recovery
// gives up. Giving up is not an error: the process stays usable offline.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.state == fsm.StateClosed {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	for {
		conn, err := m.connect(ctx)
		if err != nil {
			if m.stopping(ctx) {
				m.shutdown()
				return nil
			}
			m.apply(fsm.EventGiveUp)
			m.logger.Warn("recovery gave up; staying disconnected", "error", err)
			return nil
		}

		cause := m.serve(ctx, conn)
		if m.stopping(ctx) {
			m.shutdown()
			return nil
		}

		m.logger.Info("connection closed", "error", cause)
		if m.hooks.OnClose != nil {
			m.hooks.OnClose(cause)
		}

		if m.cfg.Recovery.Mode == ModeOff {
			m.apply(fsm.EventGiveUp)
			m.logger.Info("recovery disabled; staying disconnected")
			return nil
		}

		if !sleepCtx(ctx, m.cfg.Recovery.Delay) {
			m.shutdown()
			return nil
		}
		if m.cfg.Recovery.resets() && m.hooks.OnReset != nil {
			m.hooks.OnReset()
		}
	}
}

// connect dials until one attempt succeeds or the policy gives up.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	opts := []backoff.RetryOption{
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("dial failed; retrying", "error", err, "retry_in", next.String())
		}),
	}

	switch m.cfg.Recovery.Mode {
	case ModeReload:
		opts = append(opts, backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.Recovery.Delay)))
	case ModeReconnect:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.cfg.Recovery.Delay
		b.MaxInterval = m.cfg.Recovery.BackoffMax
		opts = append(opts,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(m.cfg.Recovery.MaxRetries)),
		)
	case ModeOff:
		opts = append(opts, backoff.WithMaxTries(1))
	}

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return m.dial(ctx)
	}, opts...)
}

// dial performs one handshake attempt.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	if _, err := m.apply(fsm.EventDial); err != nil {
		return nil, backoff.Permanent(err)
	}
	m.dials.Add(1)
	m.logger.Debug("dialing backend")

	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.apply(fsm.EventDropped)
		wrapped := fmt.Errorf("%w: dial %s: %v", ErrTransport, m.url, err)
		if resp != nil {
			wrapped = fmt.Errorf("%w: dial %s: status %d: %v", ErrTransport, m.url, resp.StatusCode, err)
		}
		if ctx.Err() == nil && m.hooks.OnError != nil {
			m.hooks.OnError(wrapped)
		}
		return nil, wrapped
	}
	conn.SetReadLimit(m.cfg.MaxMessageSize)
	return conn, nil
}

// serve runs the read loop and heartbeat for one connection and returns
// the reason it ended.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.apply(fsm.EventOpened)
	m.logger.Info("connected")
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen()
	}

	connCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-connCtx.Done()
		_ = conn.Close()
	}()
	if m.cfg.Heartbeat > 0 {
		go m.heartbeat(connCtx, conn, stop)
	}

	cause := m.readLoop(conn)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	if !m.stopping(ctx) {
		m.apply(fsm.EventDropped)
	}

	stop()
	<-done
	return cause
}

// readLoop forwards text frames in arrival order until the connection fails.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			wrapped := fmt.Errorf("%w: read: %v", ErrTransport, err)
			if m.State() == fsm.StateConnected && m.hooks.OnError != nil {
				m.hooks.OnError(wrapped)
			}
			return wrapped
		}
		if messageType != websocket.TextMessage {
			m.logger.Debug("ignoring non-text frame", "type", messageType, "bytes", len(data))
			continue
		}
		m.received.Add(1)
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(data)
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, stop context.CancelFunc) {
	ticker := time.NewTicker(m.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("heartbeat ping failed", "error", err)
				stop()
				return
			}
		}
	}
}

// Send encodes and writes one frame if the connection is open. Frames sent
// while disconnected are dropped without queueing. Returns whether the frame
// was written.
func (m *Manager) Send(msg protocol.Outbound) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == fsm.StateConnected
	m.mu.Unlock()

	if conn == nil || !open {
		m.dropped.Add(1)
		return false
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Error("encode outbound frame", "kind", msg.Kind(), "error", err)
		return false
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, frame)
	m.writeMu.Unlock()
	if err != nil {
		m.dropped.Add(1)
		wrapped := fmt.Errorf("%w: write %s frame: %v", ErrTransport, msg.Kind(), err)
		m.logger.Warn("send failed", "error", wrapped)
		// The read loop observes the broken connection and runs recovery.
		_ = conn.Close()
		return false
	}
	m.sent.Add(1)
	return true
}

// Close shuts the manager down: the open connection, if any, receives a
// normal closure frame and Run returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	cancel := m.cancel
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
	}
	m.shutdown()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || m.State() == fsm.StateClosed
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	m.apply(fsm.EventShutdown)
}

// apply runs one lifecycle event. Invalid transitions are logged and ignored.
func (m *Manager) apply(event fsm.Event) (fsm.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fsm.Transition(m.state, event)
	if err != nil {
		if m.state != fsm.StateClosed {
			m.logger.Debug("ignored lifecycle event", "state", m.state, "event", event, "error", err)
		}
		return m.state, err
	}
	m.state = next
	return next, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
