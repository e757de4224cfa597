// Package notify implements the toast queue: a bounded set of
// self-expiring user notifications.
package notify

import (
	"sync"
	"time"

	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxLive is the number of toasts visible at once
	DefaultMaxLive = 5

	// DefaultTTL is how long a toast lives unless dismissed
	DefaultTTL = 5 * time.Second
)

// Spec describes a toast to push
type Spec struct {
	Kind  models.ToastKind
	Title string
	Body  string
}

// Sink accepts toasts. The dispatcher depends on this, not on *Queue.
type Sink interface {
	Push(spec Spec) string
}

type entry struct {
	toast models.Toast
	timer *time.Timer
}

// Queue holds live toasts, oldest first
type Queue struct {
	mu       sync.Mutex
	entries  []*entry
	maxLive  int
	ttl      time.Duration
	closed   bool
	onChange func([]models.Toast)
	now      func() time.Time
}

// Option configures a Queue
type Option func(*Queue)

// WithMaxLive overrides the live toast limit
func WithMaxLive(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxLive = n
		}
	}
}

// WithTTL overrides the toast lifetime
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

// WithOnChange registers an observer called with the live toasts after
// every push, dismissal and expiry
func WithOnChange(fn func([]models.Toast)) Option {
	return func(q *Queue) {
		q.onChange = fn
	}
}

// NewQueue creates a toast queue
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		maxLive: DefaultMaxLive,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push adds a toast and returns its id. If the queue is full the oldest
// toast is removed before the new one is added.
func (q *Queue) Push(spec Spec) string {
	if spec.Kind == "" {
		spec.Kind = models.ToastInfo
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ""
	}

	toast := models.Toast{
		ID:        ulid.Make().String(),
		Kind:      spec.Kind,
		Title:     spec.Title,
		Body:      spec.Body,
		CreatedAt: q.now(),
	}

	for len(q.entries) >= q.maxLive {
		oldest := q.entries[0]
		oldest.timer.Stop()
		q.entries = q.entries[1:]
		metrics.ToastsEvicted.Inc()
	}

	id := toast.ID
	e := &entry{toast: toast}
	e.timer = time.AfterFunc(q.ttl, func() { q.expire(id) })
	q.entries = append(q.entries, e)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	metrics.ToastsPushed.WithLabelValues(string(spec.Kind)).Inc()
	q.notify(snapshot)
	return id
}

// Dismiss removes a toast early. Unknown ids are ignored.
func (q *Queue) Dismiss(id string) {
	if q.remove(id) {
		q.notify(q.Toasts())
	}
}

func (q *Queue) expire(id string) {
	if q.remove(id) {
		q.notify(q.Toasts())
	}
}

func (q *Queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.toast.ID == id {
			e.timer.Stop()
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Toasts returns the live toasts, oldest first
func (q *Queue) Toasts() []models.Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len returns the number of live toasts
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops every pending expiry timer and drops all toasts
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = nil
	q.closed = true
}

func (q *Queue) snapshotLocked() []models.Toast {
	out := make([]models.Toast, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.toast
	}
	return out
}

func (q *Queue) notify(toasts []models.Toast) {
	if q.onChange != nil {
		q.onChange(toasts)
	}
}
