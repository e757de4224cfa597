package realtime

import (
	"errors"
	"slices"
	"sync"
)

// ErrNotConnected is returned when a frame is sent without an open connection
var ErrNotConnected = errors.New("channel not connected")

// ErrClosed is returned by a manager that has been disconnected for good
var ErrClosed = errors.New("channel closed")

// SubscribeRequest selects what the backend pushes on a connection
type SubscribeRequest struct {
	Topics    []string `json:"topics,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Registrar remembers the subscription for a channel and replays it on
// every connection open. The backend forgets subscriptions when a
// connection drops.
type Registrar struct {
	mu   sync.Mutex
	req  SubscribeRequest
	send func([]byte) error
}

// NewRegistrar creates a registrar for req
func NewRegistrar(req SubscribeRequest) *Registrar {
	return &Registrar{req: cloneRequest(req)}
}

// Register sends the subscription on a freshly opened connection. send
// stays bound until the next Register so SetTopics can reach the backend.
func (r *Registrar) Register(send func([]byte) error) error {
	r.mu.Lock()
	r.send = send
	req := cloneRequest(r.req)
	r.mu.Unlock()

	return r.sendRequest(send, req)
}

// SetTopics replaces the topic set. The new request is sent immediately
// when a connection is bound and replayed on every later open.
func (r *Registrar) SetTopics(topics []string) error {
	r.mu.Lock()
	r.req.Topics = slices.Clone(topics)
	req := cloneRequest(r.req)
	send := r.send
	r.mu.Unlock()

	if send == nil {
		return nil
	}
	return r.sendRequest(send, req)
}

// Request returns the current subscription
func (r *Registrar) Request() SubscribeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRequest(r.req)
}

// Unbind forgets the connection
func (r *Registrar) Unbind() {
	r.mu.Lock()
	r.send = nil
	r.mu.Unlock()
}

func (r *Registrar) sendRequest(send func([]byte) error, req SubscribeRequest) error {
	if send == nil {
		return ErrNotConnected
	}
	frame, err := EncodeFrame(FrameSubscribe, req)
	if err != nil {
		return err
	}
	return send(frame)
}

func cloneRequest(req SubscribeRequest) SubscribeRequest {
	req.Topics = slices.Clone(req.Topics)
	return req
}
