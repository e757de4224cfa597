package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEventServer is a websocket backend that records subscriptions and
// hands each accepted connection to the test
type mockEventServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu         sync.Mutex
	subscribes []Frame
	auth       []string
	pings      int
}

func newMockEventServer(t *testing.T) *mockEventServer {
	t.Helper()
	m := &mockEventServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *websocket.Conn, 4),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(JobPath, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.auth = append(m.auth, r.Header.Get("Authorization"))
		m.mu.Unlock()

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- conn
		go m.read(conn)
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockEventServer) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		m.mu.Lock()
		switch f.Type {
		case FrameSubscribe:
			m.subscribes = append(m.subscribes, f)
		case FramePing:
			m.pings++
		}
		m.mu.Unlock()
	}
}

func (m *mockEventServer) subscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribes)
}

func (m *mockEventServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-m.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestJobChannelOverWebSocket(t *testing.T) {
	srv := newMockEventServer(t)

	cfg := fastConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	toasts := &toastRecorder{}
	ch, err := JobChannel(srv.server.URL, Options{Token: "secret", Manager: cfg, Toasts: toasts})
	require.NoError(t, err)
	defer ch.Disconnect()

	var mu sync.Mutex
	var got []models.Event
	ch.Dispatcher().OnAny(func(ev models.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	ch.Connect()
	conn := srv.accept(t)
	require.Eventually(t, func() bool { return srv.subscribeCount() == 1 }, waitFor, tick)

	srv.mu.Lock()
	assert.JSONEq(t, `{"topics":["job"]}`, string(srv.subscribes[0].Payload))
	assert.Equal(t, []string{"Bearer secret"}, srv.auth)
	srv.mu.Unlock()

	frame, err := EncodeEvent(models.Event{
		ID:       "j-1",
		Category: models.CategoryJob,
		Type:     "job_completed",
		Severity: models.SeveritySuccess,
		Message:  "export finished",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, tick)
	assert.Equal(t, "j-1", got[0].ID)
	assert.Equal(t, 1, ch.Log().Len())
	require.Len(t, toasts.all(), 1)
	assert.Equal(t, models.ToastSuccess, toasts.all()[0].Kind)

	// the server never answers pings; the channel stays live
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.pings >= 2
	}, waitFor, tick)
	assert.Equal(t, "LIVE", ch.Status().Label())
}

func TestChannelResubscribesAfterReconnect(t *testing.T) {
	srv := newMockEventServer(t)
	ch, err := JobChannel(srv.server.URL, Options{Manager: fastConfig()})
	require.NoError(t, err)
	defer ch.Disconnect()

	ch.Connect()
	first := srv.accept(t)
	require.Eventually(t, func() bool { return srv.subscribeCount() == 1 }, waitFor, tick)

	// server drops the connection
	require.NoError(t, first.Close())

	second := srv.accept(t)
	defer second.Close()
	require.Eventually(t, func() bool { return srv.subscribeCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return ch.Status().State == models.ChannelOpen }, waitFor, tick)
}

func TestChannelSetTopicsSendsImmediately(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("jobs", models.CategoryJob, "ws://example.invalid", SubscribeRequest{Topics: []string{"job"}}, Options{Manager: fastConfig(), Dialer: dialer})
	defer ch.Disconnect()

	ch.Connect()
	require.Eventually(t, func() bool {
		conn := dialer.lastConn()
		return conn != nil && len(conn.written()) == 1
	}, waitFor, tick)
	conn := dialer.lastConn()

	require.NoError(t, ch.Registrar().SetTopics([]string{"job", "circuit"}))
	assert.Equal(t, []string{
		`{"type":"subscribe","payload":{"topics":["job"]}}`,
		`{"type":"subscribe","payload":{"topics":["job","circuit"]}}`,
	}, conn.written())
}

func TestChannelFallsBackToPolling(t *testing.T) {
	dialer := &fakeDialer{fail: -1}
	feed := &fakeFeed{events: []models.Event{
		{ID: "p1", Timestamp: time.Now().Add(time.Hour), Category: models.CategoryJob, Type: "job_failed", Message: "missed while offline"},
	}}
	cfg := fastConfig()
	cfg.MaxAttempts = 2

	var mu sync.Mutex
	var statuses []models.ChannelStatus
	ch := NewChannel("jobs", models.CategoryJob, "ws://example.invalid", SubscribeRequest{Topics: []string{"job"}}, Options{
		Manager:      cfg,
		Dialer:       dialer,
		Poll:         feed.fetch,
		PollInterval: 10 * time.Millisecond,
		OnStatus: func(s models.ChannelStatus) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	defer ch.Disconnect()

	ch.Connect()
	require.Eventually(t, func() bool { return ch.Status().Polling }, waitFor, tick)
	assert.Equal(t, "POLLING", ch.Status().Label())
	require.Eventually(t, func() bool { return ch.Log().Len() == 1 }, waitFor, tick)
	assert.Equal(t, "p1", ch.Log().Events()[0].ID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := statuses[len(statuses)-1]
		return last.Degraded && last.Polling
	}, waitFor, tick)

	// a manual reconnect stops polling and restores the socket
	dialer.setFail(0)
	ch.Connect()
	require.Eventually(t, func() bool { return ch.Status().State == models.ChannelOpen }, waitFor, tick)
	assert.False(t, ch.Status().Polling)
	assert.False(t, ch.Status().Degraded)
}

func TestChannelPollsUntimedEventsIntoTheLog(t *testing.T) {
	untimed := func(ctx context.Context, since time.Time) ([]models.Event, error) {
		return []models.Event{{ID: "e1", Category: models.CategoryJob, Type: "job_failed"}}, nil
	}
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	ch := NewChannel("jobs", models.CategoryJob, "ws://example.invalid", SubscribeRequest{Topics: []string{"job"}}, Options{
		Manager:      cfg,
		Dialer:       &fakeDialer{fail: -1},
		Poll:         untimed,
		PollInterval: 10 * time.Millisecond,
	})
	defer ch.Disconnect()

	ch.Connect()
	require.Eventually(t, func() bool { return ch.Log().Len() == 1 }, waitFor, tick)
	ev := ch.Log().Events()[0]
	assert.Equal(t, "e1", ev.ID)
	assert.False(t, ev.Timestamp.IsZero(), "stamped on receipt like a socket event")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ch.Log().Len())
}

func TestChannelPresets(t *testing.T) {
	ch, err := PipelineChannel("https://ops.example.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, "pipeline", ch.Name())
	assert.Equal(t, []string{"pipeline"}, ch.Registrar().Request().Topics)
	assert.Equal(t, "wss://ops.example.com/ws/pipeline", ch.Status().URL)

	ch, err = SessionChannel("http://localhost:8080", "s-9", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.CategorySession, ch.Category())
	assert.Equal(t, "s-9", ch.Registrar().Request().SessionID)

	_, err = SessionChannel("http://localhost:8080", "", Options{})
	assert.Error(t, err)
	_, err = JobChannel("localhost", Options{})
	assert.Error(t, err)
}
