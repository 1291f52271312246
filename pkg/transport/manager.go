// Package transport owns the lifecycle of the persistent duplex connection
// used for low-latency message delivery.
//
// The push channel is best-effort by contract: it can drop silently, deliver
// duplicates, or be down entirely, and the rest of the engine stays correct
// because the history poll is an independent delivery path into the same
// merge operation.
package transport

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bookline/chatsync/pkg/logger"
)

// State describes the push-transport connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Frame is the wire payload exchanged over the push channel. One WebSocket
// frame may carry several of these, newline-delimited.
type Frame struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conn abstracts the underlying WebSocket connection so the Manager can be
// exercised in tests without a server. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens a connection to the given endpoint URL.
type DialFunc func(endpoint string) (Conn, error)

func gorillaDial(endpoint string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

const (
	// DefaultBaseDelay is the unit of the linear reconnect backoff:
	// attempt n waits n * base delay.
	DefaultBaseDelay = 1500 * time.Millisecond
	// DefaultMaxAttempts bounds reconnect attempts after an unclean close.
	DefaultMaxAttempts = 5
)

// Option configures a Manager.
type Option func(*Manager)

// WithDialFunc replaces the WebSocket dialer. Intended for tests.
func WithDialFunc(dial DialFunc) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithBaseDelay sets the linear backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Manager) { m.baseDelay = d }
}

// WithMaxAttempts sets the reconnect attempt cap.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// Manager owns one persistent duplex connection per logged-in identity and
// reconnects with linear backoff on unclean closes. It exposes observer
// registries for inbound frames and connection-state transitions.
type Manager struct {
	baseURL     string
	baseDelay   time.Duration
	maxAttempts int
	dial        DialFunc
	after       func(time.Duration, func()) *time.Timer

	mu       sync.Mutex
	conn     Conn
	selfID   string
	state    State
	attempts int
	closing  bool
	pending  *time.Timer
	gen      int
	lastErr  error

	writeMu sync.Mutex

	handlerMu     sync.Mutex
	nextHandlerID int
	msgHandlers   map[int]func(Frame)
	stateHandlers map[int]func(State)
}

// NewManager creates a Manager dialing endpoints under baseURL
// (e.g. "ws://host:4000"). No connection is opened until Connect.
func NewManager(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		baseURL:       strings.TrimRight(baseURL, "/"),
		baseDelay:     DefaultBaseDelay,
		maxAttempts:   DefaultMaxAttempts,
		dial:          gorillaDial,
		after:         time.AfterFunc,
		msgHandlers:   make(map[int]func(Frame)),
		stateHandlers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the duplex connection for an identity. Re-entry for the same
// identity while connected or connecting is a no-op; a different identity
// tears the current connection down first. A failed dial surfaces only as a
// Disconnected transition on the state stream and follows the unclean-close
// reconnect policy.
func (m *Manager) Connect(selfID string) {
	m.mu.Lock()
	if m.selfID == selfID && (m.state == Connected || m.state == Connecting) {
		m.mu.Unlock()
		return
	}
	if old := m.teardownLocked(); old != nil {
		_ = old.Close()
	}
	m.selfID = selfID
	m.closing = false
	m.attempts = 0
	m.mu.Unlock()

	m.open(selfID)
}

// Disconnect closes the transport cleanly and suppresses any pending
// reconnect. The attempt counter resets to zero.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.attempts = 0
	conn := m.teardownLocked()
	m.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.setState(Disconnected)
}

// teardownLocked detaches the current connection and cancels any scheduled
// reconnect. It bumps the connection generation so the read loop of the old
// connection cannot influence later state. Caller holds m.mu.
func (m *Manager) teardownLocked() Conn {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	return conn
}

func (m *Manager) open(selfID string) {
	m.setState(Connecting)

	endpoint := m.baseURL + "/ws?userId=" + url.QueryEscape(selfID)
	conn, err := m.dial(endpoint)
	if err != nil {
		logger.WarnCF("transport", "dial failed", map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.setState(Disconnected)
		m.scheduleReconnect(selfID)
		return
	}

	m.mu.Lock()
	if m.closing || m.selfID != selfID {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.setState(Connected)
	logger.InfoCF("transport", "connected", map[string]any{"user_id": selfID})

	go m.readLoop(conn, selfID, gen)
}

func (m *Manager) readLoop(conn Conn, selfID string, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(selfID, gen, err)
			return
		}
		m.dispatchFrame(data)
	}
}

// dispatchFrame parses one WebSocket frame, which may contain several
// newline-delimited JSON objects. A fragment that fails to parse is logged
// and skipped without aborting its siblings.
func (m *Manager) dispatchFrame(data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			logger.ErrorCF("transport", "unparsable frame fragment", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		m.notifyMessage(f)
	}
}

func (m *Manager) handleClose(selfID string, gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection superseded this one; nothing to report.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	clean := m.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if !clean {
		m.lastErr = err
	}
	m.mu.Unlock()

	logger.InfoCF("transport", "connection closed", map[string]any{
		"clean": clean,
		"error": err.Error(),
	})
	m.setState(Disconnected)

	if clean {
		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		return
	}
	m.scheduleReconnect(selfID)
}

// scheduleReconnect arms the next reconnect attempt with linear backoff:
// attempt n fires after n * baseDelay. Once the cap is reached the state
// stays terminally Disconnected until the caller reconnects explicitly.
func (m *Manager) scheduleReconnect(selfID string) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxAttempts {
		m.mu.Unlock()
		logger.WarnCF("transport", "max reconnect attempts reached", map[string]any{
			"attempts": m.maxAttempts,
		})
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := time.Duration(attempt) * m.baseDelay
	m.pending = m.after(delay, func() { m.reopen(selfID) })
	m.mu.Unlock()

	logger.InfoCF("transport", "reconnect scheduled", map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
	})
}

func (m *Manager) reopen(selfID string) {
	m.mu.Lock()
	if m.closing || m.selfID != selfID {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()
	m.open(selfID)
}

// Send pushes a frame over the transport if it is open and reports whether
// the write was attempted. This is never the only delivery path; callers do
// not treat false as an error.
func (m *Manager) Send(f Frame) bool {
	m.mu.Lock()
	conn := m.conn
	open := conn != nil && m.state == Connected
	m.mu.Unlock()

	if !open {
		return false
	}

	data, err := json.Marshal(f)
	if err != nil {
		return false
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		logger.WarnCF("transport", "push write failed", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// AddMessageHandler registers an inbound-frame observer and returns its
// unregister function. All registered handlers see every frame.
func (m *Manager) AddMessageHandler(h func(Frame)) func() {
	m.handlerMu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.msgHandlers[id] = h
	m.handlerMu.Unlock()

	return func() {
		m.handlerMu.Lock()
		delete(m.msgHandlers, id)
		m.handlerMu.Unlock()
	}
}

// AddStateHandler registers a connection-state observer and returns its
// unregister function.
func (m *Manager) AddStateHandler(h func(State)) func() {
	m.handlerMu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.stateHandlers[id] = h
	m.handlerMu.Unlock()

	return func() {
		m.handlerMu.Lock()
		delete(m.stateHandlers, id)
		m.handlerMu.Unlock()
	}
}

func (m *Manager) notifyMessage(f Frame) {
	m.handlerMu.Lock()
	handlers := make([]func(Frame), 0, len(m.msgHandlers))
	for _, h := range m.msgHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.Unlock()

	for _, h := range handlers {
		h(f)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.handlerMu.Lock()
	handlers := make([]func(State), 0, len(m.stateHandlers))
	for _, h := range m.stateHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current unclean-close attempt counter.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
