package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/lazyclaw/lazyops/internal/models"
)

// DefaultLogCapacity is the number of events retained per channel
const DefaultLogCapacity = 500

// EventLog is a bounded, append-only record of received events. Once full,
// the oldest event is dropped for each new one.
type EventLog struct {
	mu    sync.RWMutex
	buf   []models.Event
	start int
	size  int
}

// NewEventLog creates a log holding at most capacity events
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog{buf: make([]models.Event, capacity)}
}

// Append records ev and reports whether an older event was evicted
func (l *EventLog) Append(ev models.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = ev
		l.size++
		return false
	}
	l.buf[l.start] = ev
	l.start = (l.start + 1) % len(l.buf)
	return true
}

// Events returns a copy, oldest first
func (l *EventLog) Events() []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectLocked(func(models.Event) bool { return true })
}

// Last returns up to n of the most recent events, oldest first
func (l *EventLog) Last(n int) []models.Event {
	events := l.Events()
	if n >= 0 && n < len(events) {
		return events[len(events)-n:]
	}
	return events
}

// Latest returns the newest event
func (l *EventLog) Latest() (models.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.size == 0 {
		return models.Event{}, false
	}
	return l.buf[(l.start+l.size-1)%len(l.buf)], true
}

// Len returns the number of retained events
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Cap returns the capacity
func (l *EventLog) Cap() int {
	return len(l.buf)
}

// Clear drops every event
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start, l.size = 0, 0
}

// Query selects events from the log. Zero fields match everything.
type Query struct {
	Category    models.Category
	Kind        models.EventKind
	MinSeverity models.Severity
	SessionID   string
	Since       time.Time
	Text        string // case-insensitive match on type and message
}

// Matches reports whether ev passes every set field of q
func (q Query) Matches(ev models.Event) bool {
	if q.Category != "" && ev.Category != q.Category {
		return false
	}
	if q.Kind != models.KindUnknown && ev.Kind() != q.Kind {
		return false
	}
	if q.MinSeverity != "" && ev.Severity.Rank() < q.MinSeverity.Rank() {
		return false
	}
	if q.SessionID != "" && ev.SessionID != q.SessionID {
		return false
	}
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(ev.Message), needle) &&
			!strings.Contains(strings.ToLower(ev.Type), needle) {
			return false
		}
	}
	return true
}

// Filter returns the matching events, oldest first
func (l *EventLog) Filter(q Query) []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectLocked(q.Matches)
}

func (l *EventLog) collectLocked(keep func(models.Event) bool) []models.Event {
	out := make([]models.Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		ev := l.buf[(l.start+i)%len(l.buf)]
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
