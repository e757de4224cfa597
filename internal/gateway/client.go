package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Backend REST paths
const (
	OpportunitiesPath = "/api/opportunities"
	JobsPath          = "/api/jobs"
	PipelineRunsPath  = "/api/pipeline-runs"
	EventsPath        = "/api/events"
)

// ErrNotFound is returned for a 404 from the backend
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps 404 to ErrNotFound
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ClientConfig configures a backend client
type ClientConfig struct {
	Name          string
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client talks to one backend's REST API. Every request passes a rate
// limiter and a circuit breaker.
type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]

	// Cached health
	mu          sync.RWMutex
	lastError   error
	lastFetched time.Time
}

// NewClient creates a client for cfg.BaseURL
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Name == "" {
		cfg.Name = u.Host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(u.String(), "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
	c.cb = newBreaker("backend-" + cfg.Name)
	return c, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors say nothing about backend health
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerValue(to))
		},
	})
}

func breakerValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Name returns the instance name
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the normalised base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LastError returns the error of the most recent request, nil after a success
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// LastFetched returns the time of the last successful request
func (c *Client) LastFetched() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetched
}

// BreakerState returns the circuit breaker state
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

func (c *Client) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err
	if err == nil {
		c.lastFetched = time.Now()
	}
}

// do sends one request. body, if non-nil, is sent as JSON; out, if
// non-nil, receives the decoded response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = encoded
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	started := time.Now()
	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, reqURL, payload)
	})
	metrics.ObserveAPIRequest(method, path, statusLabel(err), started)

	var se *StatusError
	if err == nil || (errors.As(err, &se) && se.StatusCode < 500) {
		c.record(nil)
	} else {
		c.record(err)
	}
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, reqURL string, payload []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(truncate(data, 256))),
		}
	}
	return data, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.StatusCode)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "rejected"
	}
	return "error"
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// ListOpportunities returns every opportunity
func (c *Client) ListOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	var out []models.Opportunity
	if err := c.do(ctx, http.MethodGet, OpportunitiesPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOpportunity creates opp and returns the stored version
func (c *Client) CreateOpportunity(ctx context.Context, opp models.Opportunity) (models.Opportunity, error) {
	var out models.Opportunity
	err := c.do(ctx, http.MethodPost, OpportunitiesPath, nil, opp, &out)
	return out, err
}

// UpdateOpportunity replaces opp
func (c *Client) UpdateOpportunity(ctx context.Context, opp models.Opportunity) (models.Opportunity, error) {
	var out models.Opportunity
	err := c.do(ctx, http.MethodPut, opportunityPath(opp.ID), nil, opp, &out)
	return out, err
}

// MoveOpportunity changes the pipeline status of one opportunity
func (c *Client) MoveOpportunity(ctx context.Context, id string, status models.OpportunityStatus) error {
	body := map[string]models.OpportunityStatus{"status": status}
	return c.do(ctx, http.MethodPatch, opportunityPath(id), nil, body, nil)
}

// DeleteOpportunity removes one opportunity
func (c *Client) DeleteOpportunity(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, opportunityPath(id), nil, nil, nil)
}

func opportunityPath(id string) string {
	return OpportunitiesPath + "/" + url.PathEscape(id)
}

// ListJobs returns the job queue
func (c *Client) ListJobs(ctx context.Context) ([]models.Job, error) {
	var out []models.Job
	if err := c.do(ctx, http.MethodGet, JobsPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPipelineRuns returns recent pipeline runs
func (c *Client) ListPipelineRuns(ctx context.Context) ([]models.PipelineRun, error) {
	var out []models.PipelineRun
	if err := c.do(ctx, http.MethodGet, PipelineRunsPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PollEvents returns events of category at or after since
func (c *Client) PollEvents(ctx context.Context, category models.Category, since time.Time) ([]models.Event, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", string(category))
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	var out []models.Event
	if err := c.do(ctx, http.MethodGet, EventsPath, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EventFetcher binds PollEvents to one category for a channel's fallback
// poller
func (c *Client) EventFetcher(category models.Category) func(ctx context.Context, since time.Time) ([]models.Event, error) {
	return func(ctx context.Context, since time.Time) ([]models.Event, error) {
		return c.PollEvents(ctx, category, since)
	}
}
