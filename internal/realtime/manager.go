package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second

	backoffMultiplier = 1.5
)

// ManagerConfig tunes reconnection and heartbeat
type ManagerConfig struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultManagerConfig returns the production defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		MaxAttempts:       DefaultMaxAttempts,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HandshakeTimeout:  DefaultHandshakeTimeout,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// Manager keeps one socket to a realtime endpoint alive: it dials,
// heartbeats, and reconnects with exponential backoff until the attempt
// budget runs out. After Disconnect it never reconnects.
type Manager struct {
	name   string
	url    string
	header http.Header
	cfg    ManagerConfig
	dialer Dialer
	logger zerolog.Logger

	mu           sync.Mutex
	state        models.ChannelState
	attempt      int
	degraded     bool
	torndown     bool
	gen          uint64
	conn         Conn
	backoff      *backoff.ExponentialBackOff
	retryTimer   *time.Timer
	nextRetry    time.Time
	stopBeat     chan struct{}
	beatDone     chan struct{}
	cancelDial   context.CancelFunc
	lastActivity time.Time

	onOpen    func(send func([]byte) error)
	onFrame   func([]byte)
	onStatus  func(models.ChannelStatus)
	onRetry   func(attempt int, delay time.Duration)
	publishMu sync.Mutex
}

// NewManager creates an idle manager for url. A nil dialer dials with
// gorilla/websocket.
func NewManager(name, url string, header http.Header, cfg ManagerConfig, dialer Dialer) *Manager {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = &WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &Manager{
		name:    name,
		url:     url,
		header:  header.Clone(),
		cfg:     cfg,
		dialer:  dialer,
		logger:  logging.With("realtime").Str("channel", name).Logger(),
		state:   models.ChannelIdle,
		backoff: b,
	}
}

// OnOpen sets the hook run after every successful dial, before frames are
// read. send writes to that connection only.
func (m *Manager) OnOpen(fn func(send func([]byte) error)) {
	m.mu.Lock()
	m.onOpen = fn
	m.mu.Unlock()
}

// OnFrame sets the receiver of inbound frames. It is called from the read
// goroutine, one frame at a time.
func (m *Manager) OnFrame(fn func([]byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// OnStatus sets the status observer. Calls are serialised and carry the
// state current at call time.
func (m *Manager) OnStatus(fn func(models.ChannelStatus)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// OnRetry sets a hook called each time a reconnect is scheduled
func (m *Manager) OnRetry(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	m.onRetry = fn
	m.mu.Unlock()
}

// Name returns the channel name
func (m *Manager) Name() string {
	return m.name
}

// Status returns a snapshot of the connection state
func (m *Manager) Status() models.ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() models.ChannelStatus {
	return models.ChannelStatus{
		Channel:      m.name,
		URL:          m.url,
		State:        m.state,
		Attempt:      m.attempt,
		Degraded:     m.degraded,
		LastActivity: m.lastActivity,
		NextRetry:    m.nextRetry,
	}
}

// Connect starts connecting. It is a no-op while connecting or open and
// after Disconnect. Called while waiting to retry, it dials immediately;
// called once the budget is exhausted, it starts over with a fresh one.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.torndown || m.state == models.ChannelConnecting || m.state == models.ChannelOpen {
		m.mu.Unlock()
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.degraded {
		m.degraded = false
		m.attempt = 0
		m.backoff.Reset()
		m.logger.Info().Msg("Manual reconnect; attempt budget reset")
	}
	ctx, cancel, gen := m.beginDialLocked()
	m.mu.Unlock()

	m.publish()
	go m.dial(ctx, cancel, gen)
}

// Disconnect tears the manager down: the pending reconnect is cancelled,
// then the heartbeat stopped, then the socket closed. It is idempotent and
// final.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.torndown {
		m.mu.Unlock()
		return
	}
	m.torndown = true
	m.gen++

	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.stopBeat != nil {
		close(m.stopBeat)
		m.stopBeat = nil
	}
	beatDone := m.beatDone
	m.beatDone = nil
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = models.ChannelIdle
	m.nextRetry = time.Time{}
	m.mu.Unlock()

	// no ping may race the close
	if beatDone != nil {
		<-beatDone
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info().Msg("Disconnected")
	m.publish()
}

// Send writes a frame on the open connection
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn, torndown := m.conn, m.torndown
	m.mu.Unlock()
	if torndown {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(data)
}

func (m *Manager) beginDialLocked() (context.Context, context.CancelFunc, uint64) {
	m.gen++
	m.state = models.ChannelConnecting
	m.nextRetry = time.Time{}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.cancelDial = cancel
	return ctx, cancel, m.gen
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	m.logger.Debug().Str("url", m.url).Msg("Dialing")
	conn, err := m.dialer.Dial(ctx, m.url, m.header)

	m.mu.Lock()
	if m.torndown || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn().Err(err).Int("attempt", m.attempt).Msg("Connect failed")
		retry, delay, attempt := m.closedLocked()
		onRetry := m.onRetry
		m.mu.Unlock()
		m.publish()
		if retry && onRetry != nil {
			onRetry(attempt, delay)
		}
		return
	}

	m.conn = conn
	m.state = models.ChannelOpen
	m.attempt = 0
	m.degraded = false
	m.backoff.Reset()
	m.lastActivity = time.Now()
	stop, beatDone := make(chan struct{}), make(chan struct{})
	m.stopBeat, m.beatDone = stop, beatDone
	onOpen := m.onOpen
	m.mu.Unlock()

	m.logger.Info().Str("url", m.url).Msg("Connected")
	go m.heartbeat(conn, stop, beatDone)

	if onOpen != nil {
		m.runOpenHook(onOpen, conn)
	}
	m.publish()
	m.readLoop(conn, gen)
}

func (m *Manager) runOpenHook(fn func(send func([]byte) error), conn Conn) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("On-open hook failed")
		}
	}()
	fn(conn.WriteMessage)
}

// closedLocked moves to closed and schedules the next attempt unless the
// budget is spent
func (m *Manager) closedLocked() (scheduled bool, delay time.Duration, attempt int) {
	m.state = models.ChannelClosed
	m.nextRetry = time.Time{}

	if m.attempt >= m.cfg.MaxAttempts {
		if !m.degraded {
			m.degraded = true
			metrics.ChannelDegraded.WithLabelValues(m.name).Inc()
			m.logger.Warn().Int("attempts", m.attempt).Msg("Reconnect attempts exhausted")
		}
		return false, 0, m.attempt
	}

	delay = m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxDelay
	}
	m.attempt++
	m.nextRetry = time.Now().Add(delay)
	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() { m.retry(gen) })

	metrics.ReconnectAttempts.WithLabelValues(m.name).Inc()
	m.logger.Info().Int("attempt", m.attempt).Dur("delay", delay).Msg("Reconnect scheduled")
	return true, delay, m.attempt
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if m.torndown || gen != m.gen || m.state != models.ChannelClosed {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	ctx, cancel, next := m.beginDialLocked()
	m.mu.Unlock()

	m.publish()
	m.dial(ctx, cancel, next)
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}

		m.mu.Lock()
		if m.torndown || gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.lastActivity = time.Now()
		onFrame := m.onFrame
		m.mu.Unlock()

		if onFrame != nil {
			onFrame(data)
		}
	}
}

func (m *Manager) connectionLost(gen uint64, err error) {
	m.mu.Lock()
	if m.torndown || gen != m.gen || m.state != models.ChannelOpen {
		m.mu.Unlock()
		return
	}
	if m.stopBeat != nil {
		close(m.stopBeat)
		m.stopBeat = nil
	}
	m.beatDone = nil
	conn := m.conn
	m.conn = nil
	m.logger.Warn().Err(err).Msg("Connection lost")
	retry, delay, attempt := m.closedLocked()
	onRetry := m.onRetry
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.publish()
	if retry && onRetry != nil {
		onRetry(attempt, delay)
	}
}

// heartbeat pings until stop closes. It never waits for a pong; a dead
// peer surfaces as a read or write error.
func (m *Manager) heartbeat(conn Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(pingFrame); err != nil {
				m.logger.Debug().Err(err).Msg("Heartbeat write failed")
			}
		}
	}
}

func (m *Manager) publish() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	status := m.statusLocked()
	fn := m.onStatus
	m.mu.Unlock()

	metrics.ChannelState.WithLabelValues(m.name).Set(metrics.StateValue(string(status.State)))
	if fn != nil {
		fn(status)
	}
}
