package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lazyclaw/lazyops/internal/cache"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/lazyclaw/lazyops/internal/realtime"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Cached collections
const (
	CollectionOpportunities = "opportunities"
	CollectionJobs          = "jobs"
	CollectionPipelineRuns  = "pipeline-runs"
)

// Cache key kinds
const (
	KindOpportunity = "opportunity"
	KindJob         = "job"
	KindRun         = "run"
)

const updateBuffer = 256

// InstanceOptions configures the live view of one backend
type InstanceOptions struct {
	Realtime     realtime.ManagerConfig
	PollInterval time.Duration
	LogCapacity  int
	HTTP         ClientConfig // BaseURL, Token and Name come from the profile
	Toasts       notify.Sink
	Dialer       realtime.Dialer
}

// Instance wires one backend: its REST client, its realtime channels, the
// resource cache and the optimistic coordinator in front of it. Everything
// the UI needs to hear about arrives on Updates as tea messages.
type Instance struct {
	profile  models.InstanceProfile
	client   *Client
	channels []*realtime.Channel
	store    *cache.Store
	coord    *cache.Coordinator
	logger   zerolog.Logger

	updates   chan any
	done      chan struct{}
	closeOnce sync.Once
}

// OpenInstance builds an instance for profile. Nothing connects until
// Start.
func OpenInstance(profile models.InstanceProfile, opts InstanceOptions) (*Instance, error) {
	httpCfg := opts.HTTP
	httpCfg.Name = profile.Name
	httpCfg.BaseURL = profile.BaseURL
	httpCfg.Token = profile.Token
	client, err := NewClient(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", profile.Name, err)
	}

	store := cache.NewStore()
	inst := &Instance{
		profile: profile,
		client:  client,
		store:   store,
		coord:   cache.NewCoordinator(store),
		logger:  logging.With("instance").Str("instance", profile.Name).Logger(),
		updates: make(chan any, updateBuffer),
		done:    make(chan struct{}),
	}
	store.OnChange(func(c cache.Change) {
		inst.send(CacheChangedMsg{Instance: profile.Name, Change: c})
	})

	chOpts := func(category models.Category) realtime.Options {
		return realtime.Options{
			Token:        profile.Token,
			Manager:      opts.Realtime,
			LogCapacity:  opts.LogCapacity,
			Toasts:       opts.Toasts,
			Dialer:       opts.Dialer,
			Poll:         client.EventFetcher(category),
			PollInterval: opts.PollInterval,
			OnStatus: func(s models.ChannelStatus) {
				inst.send(ChannelStatusMsg{Instance: profile.Name, Status: s})
			},
		}
	}

	jobs, err := realtime.JobChannel(profile.BaseURL, chOpts(models.CategoryJob))
	if err != nil {
		return nil, err
	}
	pipeline, err := realtime.PipelineChannel(profile.BaseURL, chOpts(models.CategoryPipeline))
	if err != nil {
		return nil, err
	}
	inst.channels = []*realtime.Channel{jobs, pipeline}
	if profile.SessionID != "" {
		session, err := realtime.SessionChannel(profile.BaseURL, profile.SessionID, chOpts(models.CategorySession))
		if err != nil {
			return nil, err
		}
		inst.channels = append(inst.channels, session)
	}

	for _, ch := range inst.channels {
		name := ch.Name()
		d := ch.Dispatcher()
		d.OnAny(func(ev models.Event) {
			inst.invalidateFor(ev)
			inst.send(EventMsg{Instance: profile.Name, Channel: name, Event: ev})
		})
		d.OnStageChange(inst.mergeStage)
		d.OnJobCompleted(inst.mergeJob(models.JobCompleted))
		d.OnJobFailed(inst.mergeJob(models.JobFailed))
	}
	return inst, nil
}

// Name returns the instance name
func (i *Instance) Name() string {
	return i.profile.Name
}

// Profile returns the configured profile
func (i *Instance) Profile() models.InstanceProfile {
	return i.profile
}

// Client returns the REST client
func (i *Instance) Client() *Client {
	return i.client
}

// Store returns the resource cache
func (i *Instance) Store() *cache.Store {
	return i.store
}

// Channels returns the realtime channels
func (i *Instance) Channels() []*realtime.Channel {
	return i.channels
}

// Channel returns the channel called name
func (i *Instance) Channel(name string) *realtime.Channel {
	for _, ch := range i.channels {
		if ch.Name() == name {
			return ch
		}
	}
	return nil
}

// Statuses returns the status of every channel
func (i *Instance) Statuses() []models.ChannelStatus {
	out := make([]models.ChannelStatus, 0, len(i.channels))
	for _, ch := range i.channels {
		out = append(out, ch.Status())
	}
	return out
}

// Updates delivers tea messages for this instance
func (i *Instance) Updates() <-chan any {
	return i.updates
}

// Start connects every channel
func (i *Instance) Start() {
	for _, ch := range i.channels {
		ch.Connect()
	}
	i.logger.Info().Int("channels", len(i.channels)).Msg("Instance started")
}

// Reconnect restarts channels that are not live, resetting their budget
func (i *Instance) Reconnect() {
	for _, ch := range i.channels {
		if ch.Status().State != models.ChannelOpen {
			ch.Connect()
		}
	}
}

// Close disconnects every channel. Updates is not closed; receivers stop
// when Done closes.
func (i *Instance) Close() {
	i.closeOnce.Do(func() {
		for _, ch := range i.channels {
			ch.Disconnect()
		}
		close(i.done)
		i.logger.Info().Msg("Instance closed")
	})
}

// Done is closed by Close
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

func (i *Instance) send(msg any) {
	select {
	case <-i.done:
	case i.updates <- msg:
	default:
		// UI is behind; the event log and cache still hold the data
		i.logger.Debug().Str("msg", fmt.Sprintf("%T", msg)).Msg("Update dropped")
	}
}

// invalidateFor marks the collections an event makes stale
func (i *Instance) invalidateFor(ev models.Event) {
	switch ev.Category {
	case models.CategoryJob:
		i.store.Invalidate(CollectionJobs)
	case models.CategoryPipeline:
		i.store.Invalidate(CollectionPipelineRuns)
	}
}

// mergeStage folds a stage change into the cached run so the board moves
// before the next refresh. Runs not cached yet are left to the refresh.
func (i *Instance) mergeStage(ev models.Event, change models.StageChange) {
	stage := change.To
	if stage == "" {
		stage = change.Stage
	}
	if ev.PipelineRunID == "" || stage == "" {
		return
	}
	key := cache.Key(KindRun, ev.PipelineRunID)
	run, ok, err := cache.Get[models.PipelineRun](i.store, key)
	if err != nil || !ok {
		return
	}
	run.Stage = stage
	if err := cache.Put(i.store, key, run); err != nil {
		i.logger.Warn().Err(err).Str("key", key).Msg("Stage merge failed")
	}
}

// mergeJob returns a handler folding a finished job into the cache
func (i *Instance) mergeJob(state models.JobState) func(models.Event, models.JobResult) {
	return func(ev models.Event, result models.JobResult) {
		if result.JobID == "" {
			return
		}
		key := cache.Key(KindJob, result.JobID)
		job, ok, err := cache.Get[models.Job](i.store, key)
		if err != nil || !ok {
			return
		}
		job.State = state
		job.Error = result.Error
		if result.Attempts > 0 {
			job.Attempts = result.Attempts
		}
		job.UpdatedAt = ev.Timestamp
		if err := cache.Put(i.store, key, job); err != nil {
			i.logger.Warn().Err(err).Str("key", key).Msg("Job merge failed")
		}
	}
}

// Refresh refetches every collection
func (i *Instance) Refresh(ctx context.Context) error {
	return i.refresh(ctx, CollectionOpportunities, CollectionJobs, CollectionPipelineRuns)
}

// RefreshStale refetches the collections marked stale
func (i *Instance) RefreshStale(ctx context.Context) error {
	var stale []string
	for _, name := range []string{CollectionOpportunities, CollectionJobs, CollectionPipelineRuns} {
		if i.store.IsStale(name) {
			stale = append(stale, name)
		}
	}
	return i.refresh(ctx, stale...)
}

func (i *Instance) refresh(ctx context.Context, collections ...string) error {
	var errs []error
	for _, name := range collections {
		if err := i.fetch(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		i.logger.Warn().Err(err).Msg("Refresh failed")
	}
	return err
}

func (i *Instance) fetch(ctx context.Context, collection string) error {
	values := make(map[string]any)
	var prefix string

	switch collection {
	case CollectionOpportunities:
		opps, err := i.client.ListOpportunities(ctx)
		if err != nil {
			return err
		}
		for _, o := range opps {
			values[cache.Key(KindOpportunity, o.ID)] = o
		}
		prefix = KindOpportunity + ":"
	case CollectionJobs:
		jobs, err := i.client.ListJobs(ctx)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			values[cache.Key(KindJob, j.ID)] = j
		}
		prefix = KindJob + ":"
	case CollectionPipelineRuns:
		runs, err := i.client.ListPipelineRuns(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			values[cache.Key(KindRun, r.ID)] = r
		}
		prefix = KindRun + ":"
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
	return i.store.ReplaceCollection(collection, prefix, values)
}

// Opportunities returns the cached board, including speculative edits
func (i *Instance) Opportunities() ([]models.Opportunity, error) {
	return cache.List[models.Opportunity](i.store, KindOpportunity+":")
}

// Jobs returns the cached job queue
func (i *Instance) Jobs() ([]models.Job, error) {
	return cache.List[models.Job](i.store, KindJob+":")
}

// PipelineRuns returns the cached pipeline runs
func (i *Instance) PipelineRuns() ([]models.PipelineRun, error) {
	return cache.List[models.PipelineRun](i.store, KindRun+":")
}

// MoveOpportunity optimistically moves one card to status
func (i *Instance) MoveOpportunity(ctx context.Context, id string, status models.OpportunityStatus) (cache.Result, error) {
	if !status.Valid() {
		return cache.Result{}, fmt.Errorf("invalid status %q", status)
	}
	key := cache.Key(KindOpportunity, id)
	current, ok, err := cache.Get[models.Opportunity](i.store, key)
	if err != nil {
		return cache.Result{Key: key}, err
	}
	if !ok {
		return cache.Result{Key: key}, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}

	next := current
	next.Status = status
	next.UpdatedAt = time.Now().UTC()
	return i.mutate(ctx, cache.Mutation{
		Key:   key,
		Value: next,
		Remote: func(ctx context.Context) error {
			return i.client.MoveOpportunity(ctx, id, status)
		},
		Invalidate: []string{CollectionOpportunities},
	})
}

// CreateOpportunity optimistically adds a card. The id is assigned
// client-side so the speculative entry and the stored one share a key.
func (i *Instance) CreateOpportunity(ctx context.Context, opp models.Opportunity) (cache.Result, error) {
	if opp.ID == "" {
		opp.ID = "opp-" + strings.ToLower(ulid.Make().String())
	}
	if opp.Status == "" {
		opp.Status = models.StatusLead
	}
	opp.UpdatedAt = time.Now().UTC()
	return i.mutate(ctx, cache.Mutation{
		Key:   cache.Key(KindOpportunity, opp.ID),
		Value: opp,
		Remote: func(ctx context.Context) error {
			_, err := i.client.CreateOpportunity(ctx, opp)
			return err
		},
		Invalidate: []string{CollectionOpportunities},
	})
}

// UpdateOpportunity optimistically replaces a card
func (i *Instance) UpdateOpportunity(ctx context.Context, opp models.Opportunity) (cache.Result, error) {
	opp.UpdatedAt = time.Now().UTC()
	return i.mutate(ctx, cache.Mutation{
		Key:   cache.Key(KindOpportunity, opp.ID),
		Value: opp,
		Remote: func(ctx context.Context) error {
			_, err := i.client.UpdateOpportunity(ctx, opp)
			return err
		},
		Invalidate: []string{CollectionOpportunities},
	})
}

// DeleteOpportunity optimistically removes a card
func (i *Instance) DeleteOpportunity(ctx context.Context, id string) (cache.Result, error) {
	return i.mutate(ctx, cache.Mutation{
		Key:    cache.Key(KindOpportunity, id),
		Delete: true,
		Remote: func(ctx context.Context) error {
			return i.client.DeleteOpportunity(ctx, id)
		},
		Invalidate: []string{CollectionOpportunities},
	})
}

func (i *Instance) mutate(ctx context.Context, m cache.Mutation) (cache.Result, error) {
	res, err := i.coord.Mutate(ctx, m)
	i.send(MutationResultMsg{Instance: i.profile.Name, Result: res})
	return res, err
}
