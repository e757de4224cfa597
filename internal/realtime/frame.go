package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazyclaw/lazyops/internal/models"
)

// Frame types on the wire
const (
	FrameSubscribe = "subscribe"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameEvent     = "event"
)

// Frame is the envelope of every message in both directions
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FrameClass is the result of classifying an inbound frame
type FrameClass int

const (
	ClassMalformed FrameClass = iota
	ClassHeartbeat
	ClassEvent
)

func (c FrameClass) String() string {
	switch c {
	case ClassHeartbeat:
		return "heartbeat"
	case ClassEvent:
		return "event"
	default:
		return "malformed"
	}
}

var pingFrame = []byte(`{"type":"ping"}`)

// ErrMalformedFrame wraps every classification failure
var ErrMalformedFrame = errors.New("malformed frame")

// ParseFrame classifies a raw inbound frame. Only ClassEvent returns a
// usable event.
func ParseFrame(raw []byte) (models.Event, FrameClass, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.Event{}, ClassMalformed, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case FramePong:
		return models.Event{}, ClassHeartbeat, nil
	case FrameEvent:
		if len(f.Payload) == 0 {
			return models.Event{}, ClassMalformed, fmt.Errorf("%w: event without payload", ErrMalformedFrame)
		}
		var ev models.Event
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return models.Event{}, ClassMalformed, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if err := ev.Validate(); err != nil {
			return models.Event{}, ClassMalformed, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return normalizeEvent(ev), ClassEvent, nil
	case "":
		return models.Event{}, ClassMalformed, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return models.Event{}, ClassMalformed, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
}

// normalizeEvent fills receipt defaults before the event is published
func normalizeEvent(ev models.Event) models.Event {
	ev.Severity = ev.Severity.Normalize()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

// EncodeFrame builds an outbound frame
func EncodeFrame(frameType string, payload any) ([]byte, error) {
	f := Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", frameType, err)
		}
		f.Payload = data
	}
	return json.Marshal(f)
}

// EncodeEvent builds an inbound-style event frame. The mock backend and
// tests use it.
func EncodeEvent(ev models.Event) ([]byte, error) {
	return EncodeFrame(FrameEvent, ev)
}
