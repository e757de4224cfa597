package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Category is the closed set of event sources pushed by the backend
type Category string

const (
	CategoryJob      Category = "job"
	CategoryPipeline Category = "pipeline"
	CategorySession  Category = "session"
)

// Categories lists every known category
var Categories = []Category{CategoryJob, CategoryPipeline, CategorySession}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryJob, CategoryPipeline, CategorySession:
		return true
	}
	return false
}

// Severity of an event
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for filtering; success ranks with info
func (s Severity) Rank() int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo, SeveritySuccess:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 1
	}
}

// Normalize maps unknown severities to info
func (s Severity) Normalize() Severity {
	switch s {
	case SeverityDebug, SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError, SeverityCritical:
		return s
	case "warn":
		return SeverityWarning
	}
	return SeverityInfo
}

// Event is one record pushed by the backend. Never mutated after receipt.
type Event struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Category      Category        `json:"category"`
	Type          string          `json:"event_type"`
	Severity      Severity        `json:"severity"`
	Message       string          `json:"message"`
	SessionID     string          `json:"session_id,omitempty"`
	PipelineRunID string          `json:"pipeline_run_id,omitempty"`
	TaskID        string          `json:"task_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
}

// Kind classifies the event
func (e Event) Kind() EventKind {
	return Classify(e.Category, e.Type)
}

// Validate checks the fields every event must carry
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("event %s has unknown category %q", e.ID, e.Category)
	}
	if e.Type == "" {
		return fmt.Errorf("event %s missing event_type", e.ID)
	}
	return nil
}

// EventKind is the tagged union over (category, event_type)
type EventKind int

const (
	KindUnknown EventKind = iota

	// job
	KindJobStarted
	KindJobCompleted
	KindJobFailed
	KindCircuitBreak

	// pipeline
	KindPipelineStarted
	KindStageChanged
	KindEscalation
	KindReviewRequired
	KindGuardrailViolation
	KindPipelineCompleted
	KindPipelineFailed

	// session
	KindSessionStarted
	KindSessionEnded
	KindTaskStarted
	KindTaskCompleted
)

var kindNames = map[EventKind]string{
	KindUnknown:            "unknown",
	KindJobStarted:         "job_started",
	KindJobCompleted:       "job_completed",
	KindJobFailed:          "job_failed",
	KindCircuitBreak:       "circuit_break",
	KindPipelineStarted:    "pipeline_started",
	KindStageChanged:       "stage_changed",
	KindEscalation:         "escalation_triggered",
	KindReviewRequired:     "review_required",
	KindGuardrailViolation: "guardrail_violation",
	KindPipelineCompleted:  "pipeline_completed",
	KindPipelineFailed:     "pipeline_failed",
	KindSessionStarted:     "session_started",
	KindSessionEnded:       "session_ended",
	KindTaskStarted:        "task_started",
	KindTaskCompleted:      "task_completed",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classify resolves the kind of an event. Types outside the known set for
// their category classify as KindUnknown; they are still logged.
func Classify(category Category, eventType string) EventKind {
	switch category {
	case CategoryJob:
		switch eventType {
		case "job_started":
			return KindJobStarted
		case "job_completed":
			return KindJobCompleted
		case "job_failed":
			return KindJobFailed
		case "circuit_break", "circuit_breaker_tripped":
			return KindCircuitBreak
		}
	case CategoryPipeline:
		switch eventType {
		case "pipeline_started":
			return KindPipelineStarted
		case "stage_changed", "stage_change":
			return KindStageChanged
		case "escalation_triggered", "escalation":
			return KindEscalation
		case "review_required":
			return KindReviewRequired
		case "guardrail_violation":
			return KindGuardrailViolation
		case "pipeline_completed":
			return KindPipelineCompleted
		case "pipeline_failed":
			return KindPipelineFailed
		}
	case CategorySession:
		switch eventType {
		case "session_started":
			return KindSessionStarted
		case "session_ended":
			return KindSessionEnded
		case "task_started":
			return KindTaskStarted
		case "task_completed":
			return KindTaskCompleted
		}
	}
	return KindUnknown
}

// Payload is the typed body of an event, decoded from Details
type Payload interface {
	isPayload()
}

// StageChange is carried by stage_changed
type StageChange struct {
	Stage string `json:"stage"`
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
}

// Escalation is carried by escalation_triggered
type Escalation struct {
	Reason   string `json:"reason"`
	Level    string `json:"level,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// ReviewRequest is carried by review_required
type ReviewRequest struct {
	Reviewer string `json:"reviewer,omitempty"`
	Artifact string `json:"artifact"`
	URL      string `json:"url,omitempty"`
}

// GuardrailViolation is carried by guardrail_violation
type GuardrailViolation struct {
	Rule    string `json:"rule"`
	Action  string `json:"action,omitempty"` // blocked, flagged
	Excerpt string `json:"excerpt,omitempty"`
}

// JobResult is carried by job_started, job_completed and job_failed
type JobResult struct {
	JobID      string  `json:"job_id"`
	Queue      string  `json:"queue,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
}

// CircuitBreak is carried by circuit_break
type CircuitBreak struct {
	Breaker  string `json:"breaker"`
	State    string `json:"state"`
	Failures int    `json:"failures,omitempty"`
}

// Generic is returned for kinds without a dedicated payload
type Generic struct {
	Fields map[string]any
}

func (StageChange) isPayload()        {}
func (Escalation) isPayload()         {}
func (ReviewRequest) isPayload()      {}
func (GuardrailViolation) isPayload() {}
func (JobResult) isPayload()          {}
func (CircuitBreak) isPayload()       {}
func (Generic) isPayload()            {}

// Payload decodes Details according to the event kind
func (e Event) Payload() (Payload, error) {
	switch e.Kind() {
	case KindStageChanged:
		var p StageChange
		err := decodeDetails(e.Details, &p)
		return p, err
	case KindEscalation:
		var p Escalation
		err := decodeDetails(e.Details, &p)
		return p, err
	case KindReviewRequired:
		var p ReviewRequest
		err := decodeDetails(e.Details, &p)
		return p, err
	case KindGuardrailViolation:
		var p GuardrailViolation
		err := decodeDetails(e.Details, &p)
		return p, err
	case KindJobStarted, KindJobCompleted, KindJobFailed:
		var p JobResult
		err := decodeDetails(e.Details, &p)
		return p, err
	case KindCircuitBreak:
		var p CircuitBreak
		err := decodeDetails(e.Details, &p)
		return p, err
	default:
		p := Generic{}
		err := decodeDetails(e.Details, &p.Fields)
		return p, err
	}
}

func decodeDetails(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode event details: %w", err)
	}
	return nil
}
