package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// State is the connection state of the transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// MaxBackoff caps the reconnection delay.
const MaxBackoff = 30 * time.Second

const writeWait = 10 * time.Second

var (
	ErrMissingToken       = errors.New("realtime: auth token is required")
	ErrTokenExpired       = errors.New("realtime: auth token has expired")
	ErrMissingURL         = errors.New("realtime: url is required")
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrClosed             = errors.New("realtime: transport was disconnected")
)

// Options configures a Transport.
type Options struct {
	URL                  string
	Token                string
	BaseDelay            time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base * 2^(n-1), MaxBackoff).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff || delay <= 0 {
			return MaxBackoff
		}
	}
	return min(delay, MaxBackoff)
}

// Transport is a persistent WebSocket connection to the push channel with
// exponential-backoff reconnection and a heartbeat. Inbound frames are delivered
// to message handlers from a single goroutine in the order they were received.
type Transport struct {
	opts   Options
	dialer *websocket.Dialer
	replay func() []Envelope
	reset  func()

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	generation     uint64
	attempts       int
	closing        bool
	reconnectTimer *time.Timer
	stopHeartbeat  chan struct{}

	writeMu sync.Mutex

	hmu             sync.RWMutex
	stateHandlers   []func(State)
	messageHandlers []func(Envelope)
	errorHandlers   []func(error)
	attemptHandlers []func(attempt int, delay time.Duration)
}

// Option customizes a Transport.
type Option func(*Transport)

// WithReplay sets the source of envelopes re-sent verbatim after every successful connect.
func WithReplay(fn func() []Envelope) Option {
	return func(t *Transport) { t.replay = fn }
}

// WithReset sets a hook run when Disconnect is called.
func WithReset(fn func()) Option {
	return func(t *Transport) { t.reset = fn }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// NewTransport creates a disconnected transport.
func NewTransport(opts Options, options ...Option) *Transport {
	opts.applyDefaults()
	t := &Transport{
		opts:  opts,
		state: StateDisconnected,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// OnStateChange registers a handler for connection state transitions.
func (t *Transport) OnStateChange(fn func(State)) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.stateHandlers = append(t.stateHandlers, fn)
}

// OnMessage registers a handler for every decoded inbound envelope.
func (t *Transport) OnMessage(fn func(Envelope)) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.messageHandlers = append(t.messageHandlers, fn)
}

// OnError registers a handler for transport errors.
func (t *Transport) OnError(fn func(error)) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.errorHandlers = append(t.errorHandlers, fn)
}

// OnReconnectAttempt registers a handler called when a reconnect is scheduled.
func (t *Transport) OnReconnectAttempt(fn func(attempt int, delay time.Duration)) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.attemptHandlers = append(t.attemptHandlers, fn)
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether the transport is currently connected.
func (t *Transport) Connected() bool {
	return t.State() == StateConnected
}

// Connect performs the first handshake. It fails fast when the token is missing
// or expired and returns the dial error otherwise; it does not retry on its own.
// Connecting an already live transport is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	live := t.state == StateConnected || t.state == StateConnecting
	t.mu.Unlock()
	if live {
		return nil
	}

	if err := t.preflight(time.Now()); err != nil {
		t.setState(StateError)
		t.emitError(err)
		return err
	}

	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.closing = false
	t.attempts = 0
	t.stopReconnectLocked()
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		t.setState(StateError)
		t.emitError(err)
		return err
	}
	return nil
}

// Disconnect closes the connection for good: no reconnect is scheduled and the
// reset hook clears every registered subscription.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	t.attempts = 0
	t.stopReconnectLocked()
	t.stopHeartbeatLocked()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			log.Debugf("Failed to send close frame: %v", err)
		}
		t.writeMu.Unlock()
		conn.Close()
	}

	t.setState(StateDisconnected)
	if t.reset != nil {
		t.reset()
	}
	log.Println("Realtime transport disconnected.")
}

// Send writes an envelope of the given type. It returns false when the transport
// is not connected or the write fails; nothing is queued.
func (t *Transport) Send(eventType string, payload any) bool {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Not sending %s: %v", eventType, err)
		return false
	}
	return t.SendEnvelope(env)
}

// SendEnvelope writes env as is.
func (t *Transport) SendEnvelope(env Envelope) bool {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()
	if conn == nil || state != StateConnected {
		return false
	}
	return t.write(conn, env)
}

func (t *Transport) write(conn *websocket.Conn, env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to encode %s envelope: %v", env.Type, err)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.WithField("type", env.Type).Warnf("Realtime write failed: %v", err)
		return false
	}
	return true
}

func (t *Transport) preflight(now time.Time) error {
	if strings.TrimSpace(t.opts.URL) == "" {
		return ErrMissingURL
	}
	return checkToken(t.opts.Token, now)
}

// checkToken rejects empty tokens and JWTs whose exp claim has passed. Opaque
// tokens are accepted as is; the server remains the authority.
func checkToken(token string, now time.Time) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if now.After(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) error {
	t.setState(StateConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.opts.Token)
	conn, resp, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime dial failed: %w", err)
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.attempts = 0
	t.generation++
	gen := t.generation
	stop := make(chan struct{})
	t.stopHeartbeat = stop
	changed := t.setStateLocked(StateConnected)
	t.mu.Unlock()

	if changed {
		t.emitState(StateConnected)
	}
	log.WithField("url", t.opts.URL).Println("Realtime transport connected.")

	go t.readLoop(conn, gen)
	go t.heartbeat(conn, stop)

	if t.replay != nil {
		for _, env := range t.replay() {
			if !t.write(conn, env) {
				log.WithField("type", env.Type).Warn("Failed to replay subscription")
			}
		}
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(conn, gen, err)
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			log.Warnf("Dropping realtime frame: %v", err)
			t.emitError(err)
			continue
		}
		if env.Type == TypePing {
			t.write(conn, Envelope{Type: TypePong, Timestamp: time.Now().UTC(), ID: env.ID})
		}
		t.emitMessage(env)
	}
}

func (t *Transport) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, _ := NewEnvelope(TypePing, nil)
			t.write(conn, env)
		}
	}
}

func (t *Transport) handleClose(conn *websocket.Conn, gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.generation || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.stopHeartbeatLocked()
	closing := t.closing
	t.mu.Unlock()
	conn.Close()

	if closing {
		return
	}
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		log.Println("Realtime server closed the connection; not reconnecting.")
		t.setState(StateDisconnected)
		return
	}

	log.Warnf("Realtime connection lost: %v", cause)
	t.emitError(cause)
	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.attempts++
	attempt := t.attempts
	if attempt > t.opts.MaxReconnectAttempts {
		changed := t.setStateLocked(StateDisconnected)
		t.mu.Unlock()
		log.Warnf("Giving up after %d reconnect attempts.", attempt-1)
		if changed {
			t.emitState(StateDisconnected)
		}
		t.emitError(ErrReconnectExhausted)
		return
	}
	delay := Backoff(t.opts.BaseDelay, attempt)
	changed := t.setStateLocked(StateReconnecting)
	t.mu.Unlock()

	if changed {
		t.emitState(StateReconnecting)
	}
	t.emitAttempt(attempt, delay)
	log.WithFields(log.Fields{"attempt": attempt, "delay": delay}).Println("Scheduling realtime reconnect.")

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return
	}
	t.reconnectTimer = time.AfterFunc(delay, t.reconnect)
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.HandshakeTimeout)
	defer cancel()
	if err := t.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		log.Warnf("Realtime reconnect failed: %v", err)
		t.emitError(err)
		t.scheduleReconnect()
	}
}

func (t *Transport) stopReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

func (t *Transport) stopHeartbeatLocked() {
	if t.stopHeartbeat != nil {
		close(t.stopHeartbeat)
		t.stopHeartbeat = nil
	}
}

func (t *Transport) setStateLocked(s State) bool {
	if t.state == s {
		return false
	}
	t.state = s
	return true
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	changed := t.setStateLocked(s)
	t.mu.Unlock()
	if changed {
		t.emitState(s)
	}
}

func (t *Transport) emitState(s State) {
	t.hmu.RLock()
	handlers := append([]func(State){}, t.stateHandlers...)
	t.hmu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}
}

func (t *Transport) emitMessage(env Envelope) {
	t.hmu.RLock()
	handlers := append([]func(Envelope){}, t.messageHandlers...)
	t.hmu.RUnlock()
	for _, fn := range handlers {
		fn(env)
	}
}

func (t *Transport) emitError(err error) {
	t.hmu.RLock()
	handlers := append([]func(error){}, t.errorHandlers...)
	t.hmu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (t *Transport) emitAttempt(attempt int, delay time.Duration) {
	t.hmu.RLock()
	handlers := append([]func(int, time.Duration){}, t.attemptHandlers...)
	t.hmu.RUnlock()
	for _, fn := range handlers {
		fn(attempt, delay)
	}
}
