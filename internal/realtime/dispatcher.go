package realtime

import (
	"fmt"
	"sync"

	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/rs/zerolog"
)

// Handler receives dispatched events
type Handler func(models.Event)

// ToastRule turns an event into a toast; ok=false means no toast
type ToastRule func(ev models.Event) (spec notify.Spec, ok bool)

// Dispatcher routes inbound frames to the event log, callbacks and the
// toast queue. Events are dispatched one at a time in receipt order.
type Dispatcher struct {
	channel string
	log     *EventLog
	toasts  notify.Sink
	logger  zerolog.Logger

	mu       sync.RWMutex
	onAny    Handler
	handlers map[models.EventKind]Handler
	rules    map[models.EventKind]ToastRule

	dispatchMu sync.Mutex
}

// NewDispatcher creates a dispatcher. toasts may be nil.
func NewDispatcher(channel string, log *EventLog, toasts notify.Sink) *Dispatcher {
	if log == nil {
		log = NewEventLog(DefaultLogCapacity)
	}
	return &Dispatcher{
		channel:  channel,
		log:      log,
		toasts:   toasts,
		logger:   logging.With("dispatcher").Str("channel", channel).Logger(),
		handlers: make(map[models.EventKind]Handler),
		rules:    DefaultToastRules(),
	}
}

// Log returns the event log
func (d *Dispatcher) Log() *EventLog {
	return d.log
}

// OnFrame classifies one raw frame and dispatches it if it is an event.
// Heartbeats are discarded and malformed frames are logged and dropped.
func (d *Dispatcher) OnFrame(raw []byte) {
	ev, class, err := ParseFrame(raw)
	metrics.FramesReceived.WithLabelValues(d.channel, class.String()).Inc()

	switch class {
	case ClassHeartbeat:
		return
	case ClassMalformed:
		d.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("Dropping malformed frame")
		return
	}
	d.dispatch(ev)
}

// Deliver dispatches an already decoded event
func (d *Dispatcher) Deliver(ev models.Event) {
	if err := ev.Validate(); err != nil {
		d.logger.Warn().Err(err).Msg("Dropping invalid event")
		return
	}
	d.dispatch(normalizeEvent(ev))
}

func (d *Dispatcher) dispatch(ev models.Event) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	kind := ev.Kind()
	metrics.EventsDispatched.WithLabelValues(string(ev.Category), kind.String()).Inc()

	d.mu.RLock()
	onAny := d.onAny
	handler := d.handlers[kind]
	rule := d.rules[kind]
	d.mu.RUnlock()

	d.safely("log", ev, func() { d.log.Append(ev) })
	if onAny != nil {
		d.safely("any", ev, func() { onAny(ev) })
	}
	if handler != nil {
		d.safely(kind.String(), ev, func() { handler(ev) })
	}
	if rule != nil && d.toasts != nil {
		d.safely("toast", ev, func() {
			if spec, ok := rule(ev); ok {
				d.toasts.Push(spec)
			}
		})
	}
}

// safely runs one dispatch step, containing a panic to that step
func (d *Dispatcher) safely(stage string, ev models.Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(stage).Inc()
			d.logger.Error().
				Str("stage", stage).
				Str("event_id", ev.ID).
				Str("event_type", ev.Type).
				Str("panic", fmt.Sprint(r)).
				Msg("Event callback failed")
		}
	}()
	fn()
}

// OnAny registers the callback that sees every event. nil removes it.
func (d *Dispatcher) OnAny(fn Handler) {
	d.mu.Lock()
	d.onAny = fn
	d.mu.Unlock()
}

// Handle registers the handler for one kind, replacing any previous one.
// nil removes it.
func (d *Dispatcher) Handle(kind models.EventKind, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, kind)
		return
	}
	d.handlers[kind] = fn
}

// SetToastRule overrides the toast for one kind. nil disables it.
func (d *Dispatcher) SetToastRule(kind models.EventKind, rule ToastRule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rule == nil {
		delete(d.rules, kind)
		return
	}
	d.rules[kind] = rule
}

// OnStageChange registers a typed stage_changed handler
func (d *Dispatcher) OnStageChange(fn func(models.Event, models.StageChange)) {
	d.Handle(models.KindStageChanged, typed(d, fn))
}

// OnEscalation registers a typed escalation_triggered handler
func (d *Dispatcher) OnEscalation(fn func(models.Event, models.Escalation)) {
	d.Handle(models.KindEscalation, typed(d, fn))
}

// OnReviewRequired registers a typed review_required handler
func (d *Dispatcher) OnReviewRequired(fn func(models.Event, models.ReviewRequest)) {
	d.Handle(models.KindReviewRequired, typed(d, fn))
}

// OnGuardrailViolation registers a typed guardrail_violation handler
func (d *Dispatcher) OnGuardrailViolation(fn func(models.Event, models.GuardrailViolation)) {
	d.Handle(models.KindGuardrailViolation, typed(d, fn))
}

// OnJobCompleted registers a typed job_completed handler
func (d *Dispatcher) OnJobCompleted(fn func(models.Event, models.JobResult)) {
	d.Handle(models.KindJobCompleted, typed(d, fn))
}

// OnJobFailed registers a typed job_failed handler
func (d *Dispatcher) OnJobFailed(fn func(models.Event, models.JobResult)) {
	d.Handle(models.KindJobFailed, typed(d, fn))
}

// OnCircuitBreak registers a typed circuit_break handler
func (d *Dispatcher) OnCircuitBreak(fn func(models.Event, models.CircuitBreak)) {
	d.Handle(models.KindCircuitBreak, typed(d, fn))
}

// typed adapts a payload-aware callback. A payload that fails to decode is
// logged and the callback receives the zero value.
func typed[P models.Payload](d *Dispatcher, fn func(models.Event, P)) Handler {
	if fn == nil {
		return nil
	}
	return func(ev models.Event) {
		var payload P
		decoded, err := ev.Payload()
		if err != nil {
			d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Event details did not decode")
		} else if p, ok := decoded.(P); ok {
			payload = p
		}
		fn(ev, payload)
	}
}

// DefaultToastRules returns the toast produced for each notable kind
func DefaultToastRules() map[models.EventKind]ToastRule {
	return map[models.EventKind]ToastRule{
		models.KindJobCompleted:       toastAs(models.ToastSuccess, "Job completed"),
		models.KindJobFailed:          toastAs(models.ToastError, "Job failed"),
		models.KindCircuitBreak:       toastAs(models.ToastWarning, "Circuit breaker tripped"),
		models.KindEscalation:         toastAs(models.ToastWarning, "Escalation"),
		models.KindReviewRequired:     toastAs(models.ToastInfo, "Review required"),
		models.KindGuardrailViolation: toastAs(models.ToastError, "Guardrail violation"),
		models.KindPipelineCompleted:  toastAs(models.ToastSuccess, "Pipeline completed"),
		models.KindPipelineFailed:     toastAs(models.ToastError, "Pipeline failed"),
	}
}

func toastAs(kind models.ToastKind, title string) ToastRule {
	return func(ev models.Event) (notify.Spec, bool) {
		body := ev.Message
		if body == "" {
			body = ev.Type
		}
		return notify.Spec{Kind: kind, Title: title, Body: body}, true
	}
}
