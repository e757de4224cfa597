package models

import "time"

// OpportunityStatus is a column on the opportunity board
type OpportunityStatus string

const (
	StatusLead        OpportunityStatus = "lead"
	StatusQualified   OpportunityStatus = "qualified"
	StatusProposal    OpportunityStatus = "proposal"
	StatusNegotiation OpportunityStatus = "negotiation"
	StatusWon         OpportunityStatus = "won"
	StatusLost        OpportunityStatus = "lost"
)

// OpportunityStatuses lists board columns left to right
var OpportunityStatuses = []OpportunityStatus{
	StatusLead, StatusQualified, StatusProposal, StatusNegotiation, StatusWon, StatusLost,
}

// Valid reports whether s is a known status
func (s OpportunityStatus) Valid() bool {
	for _, known := range OpportunityStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Next returns the column to the right of s, or s if it is the last one
func (s OpportunityStatus) Next() OpportunityStatus {
	for i, known := range OpportunityStatuses {
		if s == known && i+1 < len(OpportunityStatuses) {
			return OpportunityStatuses[i+1]
		}
	}
	return s
}

// Prev returns the column to the left of s, or s if it is the first one
func (s OpportunityStatus) Prev() OpportunityStatus {
	for i, known := range OpportunityStatuses {
		if s == known && i > 0 {
			return OpportunityStatuses[i-1]
		}
	}
	return s
}

// Opportunity is one card on the board
type Opportunity struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Company   string            `json:"company,omitempty"`
	Status    OpportunityStatus `json:"status"`
	Value     float64           `json:"value,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// JobState of a queued job
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is an entry in the backend's job queue
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Queue     string    `json:"queue,omitempty"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PipelineRun is one execution of an orchestrated pipeline
type PipelineRun struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ToastKind selects the toast colour
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastWarning ToastKind = "warning"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
)

// Toast is a transient user notification
type Toast struct {
	ID        string
	Kind      ToastKind
	Title     string
	Body      string
	CreatedAt time.Time
}
