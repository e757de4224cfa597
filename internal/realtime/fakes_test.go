package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/lazyclaw/lazyops/internal/notify"
)

var (
	errConnClosed = errors.New("connection closed")
	errRefused    = errors.New("connection refused")
)

// fakeConn is an in-memory Conn. Frames pushed to in are read in order.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) count(frame string) int {
	n := 0
	for _, w := range c.written() {
		if w == frame {
			n++
		}
	}
	return n
}

// traceConn records every write attempt and the close in one ordered trace
type traceConn struct {
	*fakeConn
	mu    sync.Mutex
	trace []string
}

func (c *traceConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	c.trace = append(c.trace, string(data))
	c.mu.Unlock()
	return c.fakeConn.WriteMessage(data)
}

func (c *traceConn) Close() error {
	c.mu.Lock()
	c.trace = append(c.trace, "close")
	c.mu.Unlock()
	return c.fakeConn.Close()
}

func (c *traceConn) steps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.trace...)
}

// traceDialer hands out one traceConn per dial
type traceDialer struct {
	mu    sync.Mutex
	conns []*traceConn
}

func (d *traceDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &traceConn{fakeConn: newFakeConn()}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *traceDialer) dialed() []*traceConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*traceConn(nil), d.conns...)
}

// fakeDialer fails the first `fail` dials (all of them when fail < 0)
type fakeDialer struct {
	mu     sync.Mutex
	fail   int
	dials  []time.Time
	conns  []*fakeConn
	header http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	d.header = header
	if d.fail < 0 || len(d.dials) <= d.fail {
		return nil, errRefused
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(n int) {
	d.mu.Lock()
	d.fail = n
	d.dials = nil
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// toastRecorder is a notify.Sink that keeps every spec
type toastRecorder struct {
	mu    sync.Mutex
	specs []notify.Spec
}

func (r *toastRecorder) Push(spec notify.Spec) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return "t"
}

func (r *toastRecorder) all() []notify.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Spec(nil), r.specs...)
}

func fastConfig() ManagerConfig {
	return ManagerConfig{
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: time.Hour,
		HandshakeTimeout:  time.Second,
	}
}
