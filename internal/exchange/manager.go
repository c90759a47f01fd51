package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/events"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/metrics"
)

// State is the lifecycle phase of the streaming session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateActive
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrMaxReconnectAttempts is returned by Run once the reconnect budget is exhausted.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("connection manager already running")
	// ErrNotActive is returned when a runtime subscription change cannot be sent.
	ErrNotActive = errors.New("connection not active")
)

const (
	DefaultURL                   = "ws://ops.koreainvestment.com:21000"
	DefaultBaseReconnectInterval = 5 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultApprovalTTL           = 12 * time.Hour
)

// Authenticator issues the approval key the streaming endpoint requires in every request.
type Authenticator interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// Conn is the subset of *websocket.Conn the manager drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens the transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Option configures Manager construction parameters.
type Option func(*Manager)

// WithURL overrides the streaming endpoint.
func WithURL(url string) Option {
	return func(m *Manager) {
		if url != "" {
			m.url = url
		}
	}
}

// WithDialer swaps the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithReconnect sets the linear backoff base and the attempt budget.
func WithReconnect(base time.Duration, maxAttempts int) Option {
	return func(m *Manager) {
		if base > 0 {
			m.baseInterval = base
		}
		if maxAttempts > 0 {
			m.maxAttempts = maxAttempts
		}
	}
}

// WithHeartbeat sets the keep-alive period used while Active.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// WithReadTimeout drops the session when nothing arrives within d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readTimeout = d }
}

// WithApprovalTTL sets how long an approval key is reused.
func WithApprovalTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.approvalTTL = d
		}
	}
}

// WithSubscriptions seeds the subscription set issued on every connect.
func WithSubscriptions(subs ...Subscription) Option {
	return func(m *Manager) {
		for _, s := range subs {
			if s.TrID != "" && s.Code != "" {
				m.subs[s] = struct{}{}
			}
		}
	}
}

// WithEvents publishes lifecycle notifications on bus.
func WithEvents(bus *events.Bus[events.ConnectionEvent]) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// Manager owns exactly one streaming session and its reconnect state machine.
type Manager struct {
	url          string
	auth         Authenticator
	dialer       Dialer
	bus          *events.Bus[events.ConnectionEvent]
	log          zerolog.Logger
	baseInterval time.Duration
	maxAttempts  int
	heartbeat    time.Duration
	readTimeout  time.Duration
	approvalTTL  time.Duration
	now          func() time.Time
	wait         func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	state   atomic.Int32

	mu             sync.Mutex
	attempts       int
	subs           map[Subscription]struct{}
	conn           Conn
	approvalKey    string
	approvalExpiry time.Time

	writeMu sync.Mutex
}

// NewManager constructs a manager; auth supplies approval keys.
func NewManager(auth Authenticator, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		url:          DefaultURL,
		auth:         auth,
		dialer:       WebsocketDialer{},
		bus:          events.NewBus[events.ConnectionEvent](),
		log:          log.With().Str("component", "feed").Logger(),
		baseInterval: DefaultBaseReconnectInterval,
		maxAttempts:  DefaultMaxReconnectAttempts,
		heartbeat:    DefaultHeartbeatInterval,
		approvalTTL:  DefaultApprovalTTL,
		now:          time.Now,
		wait:         sleepContext,
		subs:         make(map[Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events exposes the lifecycle stream.
func (m *Manager) Events() *events.Bus[events.ConnectionEvent] { return m.bus }

// State reports the current session phase.
func (m *Manager) State() State { return State(m.state.Load()) }

// Attempts reports consecutive failed attempts since the last Active session.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscriptions returns the current subscription set in a stable order.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	out := make([]Subscription, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].TrID < out[j].TrID
	})
	return out
}

// Subscribe adds (trID, code) to the set and registers it immediately when Active.
// While not Active the pair is issued on the next connect and ErrNotActive is returned.
func (m *Manager) Subscribe(ctx context.Context, trID, code string) error {
	sub := Subscription{TrID: trID, Code: strings.ToUpper(strings.TrimSpace(code))}
	if !KnownTransaction(sub.TrID) {
		return fmt.Errorf("subscribe %s: %w", sub, ErrUnknownTransaction)
	}
	if sub.Code == "" {
		return fmt.Errorf("subscribe %s: empty instrument code", sub)
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return m.sendRuntime(ctx, sub, SubscribeMessage)
}

// Unsubscribe removes (trID, code) from the set and releases it immediately when Active.
func (m *Manager) Unsubscribe(ctx context.Context, trID, code string) error {
	sub := Subscription{TrID: trID, Code: strings.ToUpper(strings.TrimSpace(code))}
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
	return m.sendRuntime(ctx, sub, UnsubscribeMessage)
}

func (m *Manager) sendRuntime(ctx context.Context, sub Subscription, encode func(string, Subscription) ([]byte, error)) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || m.State() != StateActive {
		return ErrNotActive
	}
	key, err := m.approval(ctx)
	if err != nil {
		return err
	}
	msg, err := encode(key, sub)
	if err != nil {
		return err
	}
	return m.write(conn, websocket.TextMessage, msg)
}

// Run maintains the session until ctx is canceled or the reconnect budget is spent.
// Parsed market events are pushed to out in transport order.
func (m *Manager) Run(ctx context.Context, out chan<- market.MarketEvent) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	for {
		err := m.session(ctx, out)
		if ctx.Err() != nil {
			m.setState(StateClosing)
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		m.setState(StateDisconnected)
		attempt := m.recordFailure()
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("feed session ended")
		m.publish(events.ConnectionEvent{Kind: events.Error, Attempt: attempt, Err: err})
		m.publish(events.ConnectionEvent{Kind: events.Disconnected, Attempt: attempt, Err: err})

		if attempt >= m.maxAttempts {
			m.setState(StateFailed)
			m.log.Error().Int("attempts", attempt).Msg("feed reconnect budget exhausted")
			m.publish(events.ConnectionEvent{Kind: events.MaxReconnectAttemptsReached, Attempt: attempt, Err: err})
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxReconnectAttempts, attempt, err)
		}

		delay := m.baseInterval * time.Duration(attempt)
		metrics.ReconnectsTotal.Inc()
		m.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("scheduling reconnect")
		m.publish(events.ConnectionEvent{Kind: events.Reconnecting, Attempt: attempt, Delay: delay})
		if err := m.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (m *Manager) session(ctx context.Context, out chan<- market.MarketEvent) error {
	m.setState(StateConnecting)
	conn, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.url, err)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		m.setConn(nil)
		_ = conn.Close()
	}()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	m.setConn(conn)
	m.setState(StateConnected)
	m.log.Info().Str("url", m.url).Msg("connected market data feed")
	m.publish(events.ConnectionEvent{Kind: events.Connected, Attempt: m.Attempts()})

	key, err := m.approval(ctx)
	if err != nil {
		return fmt.Errorf("approval key: %w", err)
	}

	m.setState(StateSubscribing)
	subs := m.Subscriptions()
	for _, sub := range subs {
		msg, err := SubscribeMessage(key, sub)
		if err != nil {
			return err
		}
		if err := m.write(conn, websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub, err)
		}
	}
	m.markActive()
	if err := m.resync(conn, key, subs); err != nil {
		return err
	}
	m.log.Info().Int("subscriptions", len(m.Subscriptions())).Msg("feed active")

	go m.keepAlive(sessCtx, conn)

	for {
		if m.readTimeout > 0 {
			_ = conn.SetReadDeadline(m.now().Add(m.readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := m.route(ctx, conn, string(data), out); err != nil {
			return err
		}
	}
}

// resync reconciles the set against what was sent while Subscribing; runtime changes made before the
// session turned Active were only recorded.
func (m *Manager) resync(conn Conn, key string, sent []Subscription) error {
	was := make(map[Subscription]struct{}, len(sent))
	for _, sub := range sent {
		was[sub] = struct{}{}
	}
	now := m.Subscriptions()
	for _, sub := range now {
		if _, ok := was[sub]; ok {
			delete(was, sub)
			continue
		}
		if err := m.sendOn(conn, key, sub, SubscribeMessage); err != nil {
			return err
		}
	}
	for _, sub := range sent {
		if _, stale := was[sub]; !stale {
			continue
		}
		if err := m.sendOn(conn, key, sub, UnsubscribeMessage); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sendOn(conn Conn, key string, sub Subscription, encode func(string, Subscription) ([]byte, error)) error {
	msg, err := encode(key, sub)
	if err != nil {
		return err
	}
	if err := m.write(conn, websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("resync %s: %w", sub, err)
	}
	return nil
}

// route consumes control messages and forwards data frames; each frame takes exactly one branch.
func (m *Manager) route(ctx context.Context, conn Conn, text string, out chan<- market.MarketEvent) error {
	switch ClassifyControl(text) {
	case ControlPingPong:
		return m.write(conn, websocket.TextMessage, []byte(text))
	case ControlAck:
		m.log.Debug().Str("message", text).Msg("subscription acknowledged")
		return nil
	case ControlRejected:
		if strings.Contains(strings.ToLower(text), "approval") {
			m.clearApproval()
		}
		m.log.Warn().Str("message", text).Msg("broker rejected request")
		return nil
	case ControlOther:
		m.log.Debug().Str("message", text).Msg("ignoring system message")
		return nil
	}

	frame, err := ParseFrame(text)
	if err != nil {
		reason := "malformed"
		var perr *ParseError
		if errors.As(err, &perr) {
			reason = perr.Reason()
		}
		metrics.FrameErrorsTotal.WithLabelValues(reason).Inc()
		m.log.Warn().Err(err).Msg("dropping frame")
		return nil
	}
	metrics.FramesTotal.WithLabelValues(frame.TrID).Inc()
	for _, ev := range frame.Events(m.now()) {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) keepAlive(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if m.State() != StateActive {
				continue
			}
			if err := m.write(conn, websocket.PingMessage, nil); err != nil {
				m.log.Warn().Err(err).Msg("feed heartbeat failed")
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) write(conn Conn, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (m *Manager) approval(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.approvalKey != "" && m.now().Before(m.approvalExpiry) {
		key := m.approvalKey
		m.mu.Unlock()
		return key, nil
	}
	m.mu.Unlock()

	if m.auth == nil {
		return "", errors.New("no authenticator configured")
	}
	key, err := m.auth.ApprovalKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("empty approval key")
	}
	m.mu.Lock()
	m.approvalKey = key
	m.approvalExpiry = m.now().Add(m.approvalTTL)
	m.mu.Unlock()
	return key, nil
}

func (m *Manager) clearApproval() {
	m.mu.Lock()
	m.approvalKey = ""
	m.approvalExpiry = time.Time{}
	m.mu.Unlock()
}

func (m *Manager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	metrics.ConnectionState.Set(float64(s))
}

func (m *Manager) markActive() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.setState(StateActive)
}

func (m *Manager) recordFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

func (m *Manager) publish(ev events.ConnectionEvent) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	m.bus.Publish(ev)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
