package gateway

import (
	"fmt"
	"math/rand"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/realtime"
)

const mockHistoryLimit = 1000

// MockOptions configures the mock backend
type MockOptions struct {
	// EventInterval is how often a synthetic event is emitted; zero disables
	EventInterval time.Duration
	// FailureRate is the probability (0..1) that a mutation fails with 503
	FailureRate float64
	Seed        int64
}

// Mock simulates a backend in-process: REST resources, event websockets
// and the poll endpoint. It backs --mock and the tests.
type Mock struct {
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	interval time.Duration

	mu            sync.Mutex
	rng           *rand.Rand
	failureRate   float64
	offline       bool
	seq           int
	opportunities map[string]models.Opportunity
	jobs          map[string]models.Job
	runs          map[string]models.PipelineRun
	history       []models.Event
	clients       map[*mockClient]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type mockClient struct {
	conn      *websocket.Conn
	category  models.Category
	writeMu   sync.Mutex
	sessionID string
}

func (c *mockClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewMock creates a mock backend seeded with sample data
func NewMock(opts MockOptions) *Mock {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := &Mock{
		mux:           http.NewServeMux(),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		interval:      opts.EventInterval,
		rng:           rand.New(rand.NewSource(seed)),
		failureRate:   opts.FailureRate,
		opportunities: make(map[string]models.Opportunity),
		jobs:          make(map[string]models.Job),
		runs:          make(map[string]models.PipelineRun),
		clients:       make(map[*mockClient]struct{}),
		done:          make(chan struct{}),
	}
	m.seed()
	m.routes()
	if m.interval > 0 {
		go m.generate()
	}
	return m
}

func (m *Mock) seed() {
	now := time.Now().UTC()
	for i, o := range []struct {
		title, company string
		status         models.OpportunityStatus
		value          float64
	}{
		{"Platform renewal", "Acme", models.StatusNegotiation, 48000},
		{"Support upgrade", "Globex", models.StatusProposal, 12500},
		{"Pilot rollout", "Initech", models.StatusQualified, 8000},
		{"Data migration", "Umbrella", models.StatusLead, 21000},
		{"Expansion seats", "Hooli", models.StatusWon, 30500},
	} {
		id := fmt.Sprintf("opp-%d", i+1)
		m.opportunities[id] = models.Opportunity{
			ID: id, Title: o.title, Company: o.company, Status: o.status, Value: o.value, UpdatedAt: now,
		}
	}
	for i, name := range []string{"nightly-export", "crm-sync", "invoice-run"} {
		id := fmt.Sprintf("job-%d", i+1)
		m.jobs[id] = models.Job{ID: id, Name: name, Queue: "default", State: models.JobQueued, UpdatedAt: now}
	}
	m.runs["run-1"] = models.PipelineRun{ID: "run-1", Pipeline: "lead-enrichment", Stage: "research", Status: "running", StartedAt: now}
}

func (m *Mock) routes() {
	m.mux.HandleFunc("GET "+OpportunitiesPath, m.listOpportunities)
	m.mux.HandleFunc("POST "+OpportunitiesPath, m.createOpportunity)
	m.mux.HandleFunc("PUT "+OpportunitiesPath+"/{id}", m.updateOpportunity)
	m.mux.HandleFunc("PATCH "+OpportunitiesPath+"/{id}", m.moveOpportunity)
	m.mux.HandleFunc("DELETE "+OpportunitiesPath+"/{id}", m.deleteOpportunity)
	m.mux.HandleFunc("GET "+JobsPath, m.listJobs)
	m.mux.HandleFunc("GET "+PipelineRunsPath, m.listRuns)
	m.mux.HandleFunc("GET "+EventsPath, m.pollEvents)
	m.mux.HandleFunc(realtime.JobPath, m.socket(models.CategoryJob))
	m.mux.HandleFunc(realtime.PipelinePath, m.socket(models.CategoryPipeline))
	m.mux.HandleFunc(realtime.SessionPath, m.socket(models.CategorySession))
}

// ServeHTTP implements http.Handler
func (m *Mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

// SetFailureRate changes the mutation failure probability
func (m *Mock) SetFailureRate(rate float64) {
	m.mu.Lock()
	m.failureRate = rate
	m.mu.Unlock()
}

// SetOffline refuses websocket upgrades and drops connected sockets. REST
// endpoints keep working, which is what the fallback poller relies on.
func (m *Mock) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	var drop []*mockClient
	if offline {
		for c := range m.clients {
			drop = append(drop, c)
		}
	}
	m.mu.Unlock()

	for _, c := range drop {
		_ = c.conn.Close()
	}
}

// Close stops the generator and disconnects every socket
func (m *Mock) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		clients := make([]*mockClient, 0, len(m.clients))
		for c := range m.clients {
			clients = append(clients, c)
		}
		m.mu.Unlock()
		for _, c := range clients {
			_ = c.conn.Close()
		}
	})
}

// Subscribers returns the number of connected sockets for category
func (m *Mock) Subscribers(category models.Category) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for c := range m.clients {
		if c.category == category {
			n++
		}
	}
	return n
}

// Emit records ev and pushes it to the sockets subscribed to its category.
// Missing ids and timestamps are filled in.
func (m *Mock) Emit(ev models.Event) models.Event {
	m.mu.Lock()
	m.seq++
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("evt-%06d", m.seq)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	m.history = append(m.history, ev)
	if len(m.history) > mockHistoryLimit {
		m.history = slices.Clone(m.history[len(m.history)-mockHistoryLimit:])
	}
	var targets []*mockClient
	for c := range m.clients {
		if c.category != ev.Category {
			continue
		}
		if c.category == models.CategorySession && c.sessionID != "" && c.sessionID != ev.SessionID {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.Unlock()

	frame, err := realtime.EncodeEvent(ev)
	if err != nil {
		logging.Warn().Err(err).Msg("Mock failed to encode event")
		return ev
	}
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			logging.Debug().Err(err).Msg("Mock event write failed")
		}
	}
	return ev
}

func (m *Mock) socket(category models.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		offline := m.offline
		m.mu.Unlock()
		if offline {
			http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &mockClient{conn: conn, category: category}
		m.mu.Lock()
		m.clients[client] = struct{}{}
		m.mu.Unlock()

		go m.serveSocket(client)
	}
}

func (m *Mock) serveSocket(c *mockClient) {
	defer func() {
		m.mu.Lock()
		delete(m.clients, c)
		m.mu.Unlock()
		_ = c.conn.Close()
	}()

	pong := []byte(`{"type":"pong"}`)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case realtime.FramePing:
			_ = c.write(pong)
		case realtime.FrameSubscribe:
			var req realtime.SubscribeRequest
			if len(f.Payload) > 0 && json.Unmarshal(f.Payload, &req) == nil {
				m.mu.Lock()
				c.sessionID = req.SessionID
				m.mu.Unlock()
			}
		}
	}
}

func (m *Mock) generate() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Emit(m.randomEvent())
		}
	}
}

// randomEvent produces a plausible event and applies it to the mock state
func (m *Mock) randomEvent() models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.rng.Intn(3) {
	case 0:
		ids := sortedKeys(m.jobs)
		job := m.jobs[ids[m.rng.Intn(len(ids))]]
		ev := models.Event{Category: models.CategoryJob, Severity: models.SeverityInfo}
		switch job.State {
		case models.JobQueued, models.JobCompleted, models.JobFailed:
			job.State = models.JobRunning
			ev.Type = "job_started"
			ev.Message = job.Name + " started"
		default:
			if m.rng.Float64() < 0.25 {
				job.State = models.JobFailed
				job.Error = "upstream timeout"
				ev.Type = "job_failed"
				ev.Severity = models.SeverityError
				ev.Message = job.Name + " failed: upstream timeout"
			} else {
				job.State = models.JobCompleted
				job.Error = ""
				ev.Type = "job_completed"
				ev.Severity = models.SeveritySuccess
				ev.Message = job.Name + " completed"
			}
		}
		job.UpdatedAt = time.Now().UTC()
		m.jobs[job.ID] = job
		ev.Details, _ = json.Marshal(models.JobResult{JobID: job.ID, Queue: job.Queue, Error: job.Error})
		return ev
	case 1:
		stages := []string{"research", "draft", "review", "publish"}
		run := m.runs["run-1"]
		from := run.Stage
		run.Stage = stages[(slices.Index(stages, from)+1)%len(stages)]
		m.runs[run.ID] = run
		ev := models.Event{
			Category:      models.CategoryPipeline,
			Type:          "stage_changed",
			Severity:      models.SeverityInfo,
			Message:       fmt.Sprintf("%s moved to %s", run.Pipeline, run.Stage),
			PipelineRunID: run.ID,
		}
		switch m.rng.Intn(5) {
		case 0:
			ev.Type = "review_required"
			ev.Message = run.Pipeline + " needs a review"
			ev.Details, _ = json.Marshal(models.ReviewRequest{Artifact: "draft.md", Reviewer: "ops"})
		case 1:
			ev.Type = "guardrail_violation"
			ev.Severity = models.SeverityWarning
			ev.Message = "output blocked by guardrail"
			ev.Details, _ = json.Marshal(models.GuardrailViolation{Rule: "pii", Action: "blocked"})
		default:
			ev.Details, _ = json.Marshal(models.StageChange{Stage: run.Stage, From: from, To: run.Stage})
		}
		return ev
	default:
		return models.Event{
			Category:  models.CategorySession,
			Type:      "task_completed",
			Severity:  models.SeverityInfo,
			Message:   "agent finished a task",
			SessionID: "demo",
			TaskID:    fmt.Sprintf("task-%d", m.rng.Intn(100)),
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Mock) shouldFail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureRate > 0 && m.rng.Float64() < m.failureRate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (m *Mock) listOpportunities(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make([]models.Opportunity, 0, len(m.opportunities))
	for _, id := range sortedKeys(m.opportunities) {
		out = append(out, m.opportunities[id])
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (m *Mock) createOpportunity(w http.ResponseWriter, r *http.Request) {
	if m.shouldFail() {
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	}
	var opp models.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil || opp.Title == "" {
		http.Error(w, "invalid opportunity", http.StatusBadRequest)
		return
	}
	if opp.Status == "" {
		opp.Status = models.StatusLead
	}
	if !opp.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	if opp.ID == "" {
		m.seq++
		opp.ID = fmt.Sprintf("opp-%d", 100+m.seq)
	}
	if _, exists := m.opportunities[opp.ID]; exists {
		m.mu.Unlock()
		http.Error(w, "already exists", http.StatusConflict)
		return
	}
	opp.UpdatedAt = time.Now().UTC()
	m.opportunities[opp.ID] = opp
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, opp)
}

func (m *Mock) updateOpportunity(w http.ResponseWriter, r *http.Request) {
	if m.shouldFail() {
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	var opp models.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil || !opp.Status.Valid() {
		http.Error(w, "invalid opportunity", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	if _, ok := m.opportunities[id]; !ok {
		m.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	opp.ID = id
	opp.UpdatedAt = time.Now().UTC()
	m.opportunities[id] = opp
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, opp)
}

func (m *Mock) moveOpportunity(w http.ResponseWriter, r *http.Request) {
	if m.shouldFail() {
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	var body struct {
		Status models.OpportunityStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	opp, ok := m.opportunities[id]
	if ok {
		opp.Status = body.Status
		opp.UpdatedAt = time.Now().UTC()
		m.opportunities[id] = opp
	}
	m.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (m *Mock) deleteOpportunity(w http.ResponseWriter, r *http.Request) {
	if m.shouldFail() {
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	m.mu.Lock()
	_, ok := m.opportunities[id]
	delete(m.opportunities, id)
	m.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Mock) listJobs(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, id := range sortedKeys(m.jobs) {
		out = append(out, m.jobs[id])
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (m *Mock) listRuns(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make([]models.PipelineRun, 0, len(m.runs))
	for _, id := range sortedKeys(m.runs) {
		out = append(out, m.runs[id])
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (m *Mock) pollEvents(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = t
	}

	m.mu.Lock()
	out := make([]models.Event, 0)
	for _, ev := range m.history {
		if category != "" && ev.Category != category {
			continue
		}
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}
