package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the fallback polling period
const DefaultPollInterval = 30 * time.Second

// FetchFunc returns events newer than since
type FetchFunc func(ctx context.Context, since time.Time) ([]models.Event, error)

// Poller fetches events on an interval while a channel is degraded
type Poller struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	deliver  func(models.Event)
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	since   time.Time
	atSince map[string]struct{} // ids delivered at since; nil means all of them
	untimed map[string]struct{} // ids of delivered events without a timestamp
	lastErr error
}

// untimedLimit bounds the ids remembered for events without a timestamp
const untimedLimit = 1024

// NewPoller creates a stopped poller
func NewPoller(name string, interval time.Duration, fetch FetchFunc, deliver func(models.Event)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		name:     name,
		interval: interval,
		fetch:    fetch,
		deliver:  deliver,
		logger:   logging.With("poller").Str("channel", name).Logger(),
	}
}

// Start begins polling for events after since. seen names the events at
// exactly since that were already delivered; without it every event at
// since counts as delivered. No-op when running.
func (p *Poller) Start(since time.Time, seen ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	if since.After(p.since) {
		p.since = since
		p.atSince = idSet(seen)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	p.logger.Info().Dur("interval", p.interval).Msg("Fallback polling started")
}

// Stop halts polling and waits for an in-flight fetch to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info().Msg("Fallback polling stopped")
}

// Running reports whether the poller is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// LastError returns the error of the most recent fetch, if any
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	since := p.since
	p.mu.Unlock()

	events, err := p.fetch(ctx, since)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("Poll failed")
		}
		return
	}

	p.mu.Lock()
	atSince := p.atSince
	p.mu.Unlock()

	newest := since
	atNewest := make(map[string]struct{}, len(atSince))
	for id := range atSince {
		atNewest[id] = struct{}{}
	}
	delivered := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if !p.fresh(ev, since, atSince) {
			continue
		}
		p.deliver(ev)
		delivered++
		switch {
		case ev.Timestamp.IsZero():
			// stamped on delivery; since stays put
		case ev.Timestamp.After(newest):
			newest = ev.Timestamp
			atNewest = map[string]struct{}{ev.ID: {}}
		case ev.Timestamp.Equal(newest):
			atNewest[ev.ID] = struct{}{}
		}
	}

	p.mu.Lock()
	switch {
	case newest.After(p.since):
		p.since = newest
		p.atSince = atNewest
	case newest.Equal(p.since) && p.atSince != nil:
		p.atSince = atNewest
	}
	p.mu.Unlock()

	if delivered > 0 {
		metrics.PolledEvents.WithLabelValues(p.name).Add(float64(delivered))
		p.logger.Debug().Int("events", delivered).Msg("Polled events")
	}
}

// fresh reports whether ev has not been delivered yet. The endpoint is
// inclusive of since, so events at since are told apart by id.
func (p *Poller) fresh(ev models.Event, since time.Time, atSince map[string]struct{}) bool {
	switch {
	case ev.Timestamp.IsZero():
		if ev.ID == "" {
			return true
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.untimed[ev.ID]; ok {
			return false
		}
		if p.untimed == nil || len(p.untimed) >= untimedLimit {
			p.untimed = make(map[string]struct{})
		}
		p.untimed[ev.ID] = struct{}{}
		return true
	case since.IsZero() || ev.Timestamp.After(since):
		return true
	case ev.Timestamp.Before(since) || atSince == nil || ev.ID == "":
		return false
	default:
		_, seen := atSince[ev.ID]
		return !seen
	}
}

func idSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
