// Package session drives one speech-recognition session at a time: it
// obtains an access token, opens the recognizer websocket, sends the start
// handshake, lets audio through while streaming and performs the ordered
// stop sequence.
//
// The [Manager] never touches samples. Audio reaches the recognizer only
// through [Manager.MaybeSend], which forwards a frame solely while the
// session is in the Streaming state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxstream/internal/observe"
	"github.com/MrWong99/voxstream/internal/token"
	"github.com/MrWong99/voxstream/pkg/transport"
)

var (
	// ErrConnectionFailed is returned when the recognizer websocket cannot
	// be opened or breaks before streaming.
	ErrConnectionFailed = errors.New("session: connection failed")

	// ErrProtocolViolation marks inbound frames that are not JSON. Such
	// frames are logged and dropped; the error is never returned.
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrStopped is returned by Start when Stop interrupted it.
	ErrStopped = errors.New("session: stopped during start")
)

const defaultStopTimeout = 5 * time.Second

// Observer receives every inbound recognizer message in arrival order.
//
// OnMessage runs on the connection's reader goroutine. It must not block for
// long and must not call Start, Stop or Reset.
type Observer interface {
	OnMessage(msg json.RawMessage)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(msg json.RawMessage)

// OnMessage implements [Observer].
func (f ObserverFunc) OnMessage(msg json.RawMessage) { f(msg) }

// TokenSource issues and renews access tokens. [*token.Client] implements it.
type TokenSource interface {
	Fetch(ctx context.Context, apiKey string) (token.Token, error)
	token.Renewer
}

// Dialer opens a link to the recognizer.
type Dialer func(ctx context.Context, url string, opts ...transport.LinkOption) (transport.Link, error)

// Config holds the per-manager session parameters.
type Config struct {
	// APIKey is exchanged for an access token at the start of every session.
	APIKey string

	// Endpoint is the websocket URL of the recognizer for the session
	// language. The token is appended as the "token" query parameter.
	Endpoint string

	// SampleRate announced in the handshake. It must match the rate of the
	// frames passed to MaybeSend.
	SampleRate int

	// Policy is sent in the handshake. The zero value selects [DefaultPolicy].
	Policy Policy

	// StopTimeout bounds how long Stop waits for the recognizer to close the
	// connection. Defaults to 5s.
	StopTimeout time.Duration

	// QueueSize is the link send queue capacity. Zero uses the transport
	// default.
	QueueSize int
}

// Manager owns the session state machine, the token cell and the link.
// All methods are safe for concurrent use.
type Manager struct {
	cfg       Config
	tokens    TokenSource
	observer  Observer
	dial      Dialer
	metrics   *observe.Metrics
	listeners []func(from, to State)
	gate      *transport.Gate

	state atomic.Int32

	mu        sync.Mutex
	id        string
	link      transport.Link
	refresher *token.Refresher
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	onClosed  []func(sessionID string)
	cell      token.Cell

	// pending holds callbacks queued while mu is held. unlock runs them
	// after releasing mu.
	pending []func()
}

// Option configures a [Manager].
type Option func(*Manager)

// WithObserver sets the inbound message observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithMetrics records gate decisions and lifecycle events to met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithStateListener registers fn to be called on every transition. Listeners
// run in transition order on the goroutine that made the transition, after
// the manager's lock is released, so they may use the accessors. They must
// not block for long.
func WithStateListener(fn func(from, to State)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// NewManager returns an Idle manager.
func NewManager(cfg Config, tokens TokenSource, opts ...Option) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	m := &Manager{
		cfg:    cfg,
		tokens: tokens,
		dial:   dialWebsocket,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	var hooks transport.Hooks
	if m.metrics != nil {
		met := m.metrics
		hooks.OnSent = func(n int) { met.RecordFrameSent(context.Background(), n) }
		hooks.OnDropped = func(r transport.DropReason) { met.RecordFrameDropped(context.Background(), string(r)) }
	}
	m.gate = transport.NewGate(hooks)
	return m
}

func dialWebsocket(ctx context.Context, url string, opts ...transport.LinkOption) (transport.Link, error) {
	l, err := transport.Dial(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// State returns the current state.
func (m *Manager) State() State { return State(m.state.Load()) }

// ID returns the identifier of the current or most recent session.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Token returns the access token currently held, or "" outside a session.
func (m *Manager) Token() string { return m.cell.Load() }

// Done returns a channel that is closed when the session begun by the latest
// Start reaches Closed.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the error that closed the latest session. It is nil for a
// session that ended through Stop or a normal peer closure.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// OnClosed registers fn to run with the session ID every time a session
// reaches Closed. Hooks run outside the manager's lock after the link is
// closed, and before Done is closed.
func (m *Manager) OnClosed(fn func(sessionID string)) {
	m.mu.Lock()
	m.onClosed = append(m.onClosed, fn)
	m.mu.Unlock()
}

// MaybeSend forwards an encoded PCM frame if the session is streaming and the
// link can take it immediately. Otherwise the frame is dropped.
func (m *Manager) MaybeSend(frame []byte) bool {
	return m.gate.MaybeSend(frame)
}

// Frames returns how many frames the manager has forwarded and dropped over
// its lifetime.
func (m *Manager) Frames() (sent, dropped uint64) {
	return m.gate.Sent(), m.gate.Dropped()
}

// Streaming reports whether frames are currently forwarded to the recognizer.
func (m *Manager) Streaming() bool { return m.gate.Streaming() }

// Start runs a new session up to Streaming: token fetch, connect, handshake.
// A Closed manager is reset first. Start fails with [ErrInvalidState] while a
// session is live.
//
// On failure the session ends in Closed and the returned error wraps
// [token.ErrTokenRequestFailed] or [ErrConnectionFailed]. The session keeps
// running after Start returns until Stop, a peer close or cancellation of
// ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch st := m.State(); st {
	case Closed:
		m.resetLocked()
	case Idle:
	default:
		m.unlock()
		return fmt.Errorf("session: start in state %s: %w", st, ErrInvalidState)
	}
	sctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	m.id = id
	m.cancel = cancel
	m.done = make(chan struct{})
	m.err = nil
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(sctx, 1)
	}
	m.setStateLocked(AwaitingToken)
	m.unlock()

	began := time.Now()
	sctx, span := observe.StartSpan(sctx, "session.start",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()
	log := observe.Logger(sctx).With("session_id", id)

	tok, err := m.tokens.Fetch(sctx, m.cfg.APIKey)
	if err != nil {
		span.RecordError(err)
		return m.fail(id, AwaitingToken, fmt.Errorf("session: fetch token: %w", err))
	}

	m.mu.Lock()
	if !m.currentLocked(id, AwaitingToken) {
		m.unlock()
		return ErrStopped
	}
	m.cell.Store(tok.Value)
	m.refresher = token.StartRefresher(sctx, m.tokens, &m.cell, token.RefreshInterval(tok.Expiry))
	m.setStateLocked(Connecting)
	m.unlock()

	target, err := endpointURL(m.cfg.Endpoint, tok.Value)
	if err != nil {
		return m.fail(id, Connecting, fmt.Errorf("session: endpoint: %w: %w", ErrConnectionFailed, err))
	}
	link, err := m.dial(sctx, target,
		transport.WithMessageHandler(m.messageHandler(log)),
		transport.WithQueueSize(m.cfg.QueueSize),
	)
	if err != nil {
		span.RecordError(err)
		return m.fail(id, Connecting, fmt.Errorf("session: connect: %w: %w", ErrConnectionFailed, err))
	}

	m.mu.Lock()
	if !m.currentLocked(id, Connecting) {
		m.unlock()
		_ = link.Close()
		return ErrStopped
	}
	m.link = link
	m.gate.Attach(link)
	m.setStateLocked(HandshakePending)
	m.unlock()

	hs, err := m.cfg.Policy.Handshake(m.cfg.SampleRate)
	if err == nil {
		err = link.SendControl(sctx, hs)
	}
	if err != nil {
		return m.fail(id, HandshakePending, fmt.Errorf("session: handshake: %w: %w", ErrConnectionFailed, err))
	}

	m.mu.Lock()
	if !m.currentLocked(id, HandshakePending) {
		m.unlock()
		return ErrStopped
	}
	m.gate.Open()
	m.setStateLocked(Streaming)
	m.unlock()

	elapsed := time.Since(began)
	if m.metrics != nil {
		m.metrics.ConnectDuration.Record(sctx, elapsed.Seconds())
	}
	log.Info("session streaming",
		"endpoint", m.cfg.Endpoint,
		"sample_rate", m.cfg.SampleRate,
		"connect_time", elapsed,
	)

	go m.watch(sctx, id, link)
	return nil
}

// Stop ends the session. While streaming, the gate is shut, the stop message
// is sent and Stop waits (up to the stop timeout or ctx) for the recognizer
// to close the connection. Before streaming the session is torn down
// directly without a stop message. Stop on an Idle or Closed manager does
// nothing.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch st := m.State(); st {
	case Idle, Closed:
		m.unlock()
		return nil
	case Stopping:
		done := m.done
		m.unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case Streaming:
	default:
		slog.Debug("session: stop before streaming", "session_id", m.id, "state", st)
		m.closeLocked(nil)
		m.unlock()
		return nil
	}

	// Shut before queueing stop: no audio frame may follow it.
	m.gate.Shut()
	m.setStateLocked(Stopping)
	id, link := m.id, m.link
	m.unlock()

	if err := link.SendControl(ctx, stopMessage); err != nil {
		slog.Debug("session: stop message not sent", "session_id", id, "err", err)
	} else {
		timer := time.NewTimer(m.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-link.Closed():
		case <-timer.C:
			slog.Warn("recognizer did not close after stop", "session_id", id, "timeout", m.cfg.StopTimeout)
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	if m.currentLocked(id, Stopping) {
		m.closeLocked(nil)
	}
	m.unlock()
	return nil
}

// Reset moves a Closed manager back to Idle. It fails with
// [ErrInvalidState] while a session is live.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.unlock()
	st := m.State()
	if st.Live() {
		return fmt.Errorf("session: reset in state %s: %w", st, ErrInvalidState)
	}
	if st == Closed {
		m.resetLocked()
	}
	return nil
}

func (m *Manager) resetLocked() {
	m.err = nil
	m.setStateLocked(Idle)
}

func (m *Manager) currentLocked(id string, st State) bool {
	return m.id == id && m.State() == st
}

// fail closes session id with err if it is still in state from.
func (m *Manager) fail(id string, from State, err error) error {
	m.mu.Lock()
	defer m.unlock()
	if !m.currentLocked(id, from) {
		return ErrStopped
	}
	slog.Warn("session start failed", "session_id", id, "state", from, "err", err)
	m.closeLocked(err)
	return err
}

// watch closes a streaming session when the peer drops the link or the
// session context ends.
func (m *Manager) watch(ctx context.Context, id string, link transport.Link) {
	var cause error
	select {
	case <-link.Closed():
		cause = peerError(link)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	m.mu.Lock()
	defer m.unlock()
	if !m.currentLocked(id, Streaming) {
		return
	}
	slog.Info("session ended while streaming", "session_id", id, "cause", cause)
	m.closeLocked(cause)
}

func peerError(link transport.Link) error {
	pe, ok := link.(interface{ PeerErr() error })
	if !ok {
		return nil
	}
	err := pe.PeerErr()
	if err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return fmt.Errorf("session: connection lost: %w: %w", ErrConnectionFailed, err)
}

// closeLocked tears down every per-session resource and enters Closed. The
// link close, the OnClosed hooks and closing Done are queued for unlock.
func (m *Manager) closeLocked(err error) {
	if st := m.State(); st == Closed || st == Idle {
		return
	}
	m.gate.Detach()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	// The refresher never takes mu, so waiting for it here is safe and keeps
	// a late refresh from refilling the cleared cell.
	if m.refresher != nil {
		m.refresher.Stop()
		m.refresher = nil
	}
	if link := m.link; link != nil {
		m.link = nil
		m.pending = append(m.pending, func() { _ = link.Close() })
	}
	m.cell.Clear()
	m.err = err
	m.setStateLocked(Closed)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	id, done := m.id, m.done
	hooks := append([](func(string))(nil), m.onClosed...)
	m.pending = append(m.pending, func() {
		for _, fn := range hooks {
			fn(id)
		}
		close(done)
	})
}

func (m *Manager) setStateLocked(to State) {
	from := State(m.state.Swap(int32(to)))
	slog.Debug("session transition", "session_id", m.id, "from", from, "to", to)
	if m.metrics != nil {
		m.metrics.RecordTransition(context.Background(), to.String())
	}
	for _, fn := range m.listeners {
		m.pending = append(m.pending, func() { fn(from, to) })
	}
}

// unlock releases mu and then runs the callbacks queued while it was held.
func (m *Manager) unlock() {
	fns := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) messageHandler(log *slog.Logger) transport.MessageHandler {
	return func(data []byte) {
		if !json.Valid(data) {
			log.Warn("ignoring inbound frame", "err", ErrProtocolViolation, "bytes", len(data))
			return
		}
		if m.observer != nil {
			m.observer.OnMessage(json.RawMessage(data))
		}
	}
}

func endpointURL(endpoint, tok string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
