package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestManagerBackoffThenDegraded(t *testing.T) {
	dialer := &fakeDialer{fail: -1}
	cfg := fastConfig()
	cfg.BaseDelay = 20 * time.Millisecond
	m := NewManager("jobs", "ws://example.invalid/ws/events", nil, cfg, dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	var delays []time.Duration
	m.OnRetry(func(attempt int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().Degraded }, waitFor, tick)

	status := m.Status()
	assert.Equal(t, models.ChannelClosed, status.State)
	assert.Equal(t, 5, status.Attempt)
	assert.Equal(t, "OFFLINE", status.Label())

	mu.Lock()
	assert.Equal(t, []time.Duration{
		20 * time.Millisecond,
		30 * time.Millisecond,
		45 * time.Millisecond,
		67500 * time.Microsecond,
		101250 * time.Microsecond,
	}, delays)
	mu.Unlock()

	// initial dial plus one per scheduled attempt, then nothing
	assert.Equal(t, 6, dialer.dialCount())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 6, dialer.dialCount())
}

func TestManagerBackoffCappedAtMaxDelay(t *testing.T) {
	dialer := &fakeDialer{fail: -1}
	cfg := fastConfig()
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.MaxDelay = 15 * time.Millisecond
	cfg.MaxAttempts = 4
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	var delays []time.Duration
	m.OnRetry(func(_ int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().Degraded }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond,
		15 * time.Millisecond,
		15 * time.Millisecond,
	}, delays)
}

func TestManagerOpenResetsAttempts(t *testing.T) {
	dialer := &fakeDialer{fail: 2}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)

	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, 0, m.Status().Attempt)
	assert.False(t, m.Status().Degraded)
	assert.False(t, m.Status().LastActivity.IsZero())
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)
	m.Connect()

	assert.Equal(t, 1, dialer.dialCount())
}

func TestManagerHeartbeatWithoutPong(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)
	defer m.Disconnect()

	m.Connect()
	require.Eventually(t, func() bool { return dialer.lastConn() != nil }, waitFor, tick)
	conn := dialer.lastConn()

	// the peer never answers; pings keep going and the socket stays open
	require.Eventually(t, func() bool { return conn.count(`{"type":"ping"}`) >= 3 }, waitFor, tick)
	assert.Equal(t, models.ChannelOpen, m.Status().State)
}

func TestManagerHeartbeatStopsWithSocket(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)

	m.Connect()
	require.Eventually(t, func() bool { return dialer.lastConn() != nil }, waitFor, tick)
	conn := dialer.lastConn()
	require.Eventually(t, func() bool { return conn.count(`{"type":"ping"}`) >= 1 }, waitFor, tick)

	m.Disconnect()
	time.Sleep(20 * time.Millisecond)
	pings := conn.count(`{"type":"ping"}`)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, pings, conn.count(`{"type":"ping"}`))
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	opens := 0
	m.OnOpen(func(send func([]byte) error) {
		mu.Lock()
		opens++
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)
	first := dialer.lastConn()

	// server drops the socket
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return dialer.connCount() == 2 && m.Status().State == models.ChannelOpen
	}, waitFor, tick)

	assert.NotSame(t, first, dialer.lastConn())
	mu.Lock()
	assert.Equal(t, 2, opens)
	mu.Unlock()
}

func TestManagerDisconnectIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)
	conn := dialer.lastConn()

	m.Disconnect()
	assert.Equal(t, models.ChannelIdle, m.Status().State)
	assert.True(t, conn.isClosed())

	m.Disconnect()
	m.Connect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, models.ChannelIdle, m.Status().State)
	assert.ErrorIs(t, m.Send([]byte("x")), ErrClosed)
}

func TestManagerTeardownStopsHeartbeatBeforeClosingSocket(t *testing.T) {
	dialer := &traceDialer{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = time.Millisecond
	cfg.BaseDelay = time.Millisecond
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)

	m.Connect()
	require.Eventually(t, func() bool {
		conns := dialer.dialed()
		return len(conns) == 1 && len(conns[0].steps()) >= 3
	}, waitFor, tick)
	conn := dialer.dialed()[0]

	m.Disconnect()
	steps := conn.steps()
	require.NotEmpty(t, steps)
	assert.Equal(t, "close", steps[len(steps)-1], "the socket closes after the last ping")

	// closing the socket must not re-arm a reconnect or another ping
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, steps, conn.steps())
	assert.Len(t, dialer.dialed(), 1)
	assert.Equal(t, models.ChannelIdle, m.Status().State)
}

func TestManagerDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{fail: -1}
	cfg := fastConfig()
	cfg.BaseDelay = 50 * time.Millisecond
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)

	m.Connect()
	require.Eventually(t, func() bool {
		s := m.Status()
		return s.State == models.ChannelClosed && !s.NextRetry.IsZero()
	}, waitFor, tick)

	m.Disconnect()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, models.ChannelIdle, m.Status().State)
}

func TestManagerManualConnectAfterExhaustion(t *testing.T) {
	dialer := &fakeDialer{fail: -1}
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	m := NewManager("jobs", "ws://example.invalid", nil, cfg, dialer)
	defer m.Disconnect()

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().Degraded }, waitFor, tick)

	dialer.setFail(0)
	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)
	assert.False(t, m.Status().Degraded)
	assert.Equal(t, 0, m.Status().Attempt)
}

func TestManagerDeliversFramesInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	var got []string
	m.OnFrame(func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool { return dialer.lastConn() != nil }, waitFor, tick)
	conn := dialer.lastConn()
	for _, f := range []string{"1", "2", "3", "4"} {
		conn.in <- []byte(f)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, waitFor, tick)
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
}

func TestManagerPublishesStatus(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), dialer)

	var mu sync.Mutex
	var states []models.ChannelState
	m.OnStatus(func(s models.ChannelStatus) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().State == models.ChannelOpen }, waitFor, tick)
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, models.ChannelIdle, states[len(states)-1])
	assert.Contains(t, states, models.ChannelOpen)
}

func TestManagerSendBeforeConnect(t *testing.T) {
	m := NewManager("jobs", "ws://example.invalid", nil, fastConfig(), &fakeDialer{})
	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotConnected)
}
