package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazyclaw/lazyops/internal/cache"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/lazyclaw/lazyops/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func testInstance(t *testing.T, baseURL string, toasts notify.Sink) *Instance {
	t.Helper()
	inst, err := OpenInstance(models.InstanceProfile{Name: "mock", BaseURL: baseURL, SessionID: "demo"}, InstanceOptions{
		Realtime: realtime.ManagerConfig{
			BaseDelay:         10 * time.Millisecond,
			MaxDelay:          50 * time.Millisecond,
			MaxAttempts:       2,
			HeartbeatInterval: 50 * time.Millisecond,
		},
		PollInterval: 20 * time.Millisecond,
		LogCapacity:  100,
		Toasts:       toasts,
	})
	require.NoError(t, err)
	t.Cleanup(inst.Close)
	return inst
}

func allOpen(inst *Instance) bool {
	for _, s := range inst.Statuses() {
		if s.State != models.ChannelOpen {
			return false
		}
	}
	return true
}

// waitMsg drains updates until match returns true
func waitMsg[T any](t *testing.T, inst *Instance, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-inst.Updates():
			if m, ok := msg.(T); ok && match(m) {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T arrived", zero)
			return zero
		}
	}
}

func TestInstanceChannels(t *testing.T) {
	_, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)

	names := []string{}
	for _, ch := range inst.Channels() {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{"jobs", "pipeline", "session"}, names)
	assert.NotNil(t, inst.Channel("session"))
	assert.Nil(t, inst.Channel("nope"))
}

func TestInstanceStreamsEvents(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	queue := notify.NewQueue(notify.WithTTL(time.Minute))
	defer queue.Close()
	inst := testInstance(t, srv.URL, queue)

	inst.Start()
	require.Eventually(t, func() bool { return allOpen(inst) }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return mock.Subscribers(models.CategoryJob) == 1 }, waitFor, 5*time.Millisecond)

	mock.Emit(models.Event{
		Category: models.CategoryJob,
		Type:     "job_failed",
		Severity: models.SeverityError,
		Message:  "crm-sync failed",
	})

	msg := waitMsg(t, inst, func(m EventMsg) bool { return m.Event.Type == "job_failed" })
	assert.Equal(t, "jobs", msg.Channel)
	assert.Equal(t, 1, inst.Channel("jobs").Log().Len())
	assert.True(t, inst.Store().IsStale(CollectionJobs))

	require.Eventually(t, func() bool { return queue.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, models.ToastError, queue.Toasts()[0].Kind)
}

func TestInstanceMergesStageChangeIntoCachedRun(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)
	require.NoError(t, inst.Refresh(context.Background()))

	inst.Start()
	require.Eventually(t, func() bool { return mock.Subscribers(models.CategoryPipeline) == 1 }, waitFor, 5*time.Millisecond)

	details, err := json.Marshal(models.StageChange{Stage: "review", From: "research", To: "review"})
	require.NoError(t, err)
	mock.Emit(models.Event{
		Category:      models.CategoryPipeline,
		Type:          "stage_changed",
		Message:       "lead-enrichment moved to review",
		PipelineRunID: "run-1",
		Details:       details,
	})

	require.Eventually(t, func() bool {
		run, ok, err := cache.Get[models.PipelineRun](inst.Store(), cache.Key(KindRun, "run-1"))
		return err == nil && ok && run.Stage == "review"
	}, waitFor, 5*time.Millisecond)
	assert.True(t, inst.Store().IsStale(CollectionPipelineRuns), "the merge does not replace the refetch")

	// an unknown run is left for the refresh to fill in
	mock.Emit(models.Event{
		Category:      models.CategoryPipeline,
		Type:          "stage_changed",
		PipelineRunID: "run-9",
		Details:       details,
	})
	waitMsg(t, inst, func(m EventMsg) bool { return m.Event.PipelineRunID == "run-9" })
	_, ok := inst.Store().Raw(cache.Key(KindRun, "run-9"))
	assert.False(t, ok)
}

func TestInstanceMergesFinishedJobs(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)
	require.NoError(t, inst.Refresh(context.Background()))

	inst.Start()
	require.Eventually(t, func() bool { return mock.Subscribers(models.CategoryJob) == 1 }, waitFor, 5*time.Millisecond)

	emit := func(eventType string, result models.JobResult) {
		details, err := json.Marshal(result)
		require.NoError(t, err)
		mock.Emit(models.Event{Category: models.CategoryJob, Type: eventType, Details: details})
	}
	jobAt := func(id string) models.Job {
		job, _, _ := cache.Get[models.Job](inst.Store(), cache.Key(KindJob, id))
		return job
	}

	emit("job_failed", models.JobResult{JobID: "job-2", Error: "upstream timeout", Attempts: 3})
	require.Eventually(t, func() bool { return jobAt("job-2").State == models.JobFailed }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "upstream timeout", jobAt("job-2").Error)
	assert.Equal(t, 3, jobAt("job-2").Attempts)

	emit("job_completed", models.JobResult{JobID: "job-2"})
	require.Eventually(t, func() bool { return jobAt("job-2").State == models.JobCompleted }, waitFor, 5*time.Millisecond)
	assert.Empty(t, jobAt("job-2").Error)
	assert.Equal(t, models.JobQueued, jobAt("job-1").State)
}

func TestInstanceRefreshFillsCache(t *testing.T) {
	_, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)

	require.NoError(t, inst.Refresh(context.Background()))

	opps, err := inst.Opportunities()
	require.NoError(t, err)
	assert.Len(t, opps, 5)
	jobs, err := inst.Jobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	runs, err := inst.PipelineRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	assert.False(t, inst.Store().IsStale(CollectionOpportunities))
	inst.Store().Invalidate(CollectionJobs)
	require.NoError(t, inst.RefreshStale(context.Background()))
	assert.False(t, inst.Store().IsStale(CollectionJobs))
}

func TestInstanceMoveOpportunity(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)
	require.NoError(t, inst.Refresh(context.Background()))
	key := cache.Key(KindOpportunity, "opp-4")

	res, err := inst.MoveOpportunity(context.Background(), "opp-4", models.StatusQualified)
	require.NoError(t, err)
	assert.Equal(t, cache.OutcomeConfirmed, res.Outcome)
	moved, _, _ := cache.Get[models.Opportunity](inst.Store(), key)
	assert.Equal(t, models.StatusQualified, moved.Status)
	assert.Equal(t, 1, inst.Store().Invalidations(CollectionOpportunities))

	// the backend rejects the next move; the card snaps back
	require.NoError(t, inst.Refresh(context.Background()))
	before, _ := inst.Store().Raw(key)
	mock.SetFailureRate(1)
	res, err = inst.MoveOpportunity(context.Background(), "opp-4", models.StatusWon)
	require.Error(t, err)
	assert.Equal(t, cache.OutcomeRolledBack, res.Outcome)
	after, _ := inst.Store().Raw(key)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, inst.Store().Invalidations(CollectionOpportunities))

	result := waitMsg(t, inst, func(m MutationResultMsg) bool { return m.Result.Outcome == cache.OutcomeRolledBack })
	assert.Equal(t, key, result.Result.Key)

	_, err = inst.MoveOpportunity(context.Background(), "missing", models.StatusWon)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = inst.MoveOpportunity(context.Background(), "opp-4", "sideways")
	assert.Error(t, err)
}

func TestInstanceCreateAndDeleteOpportunity(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	inst := testInstance(t, srv.URL, nil)

	res, err := inst.CreateOpportunity(context.Background(), models.Opportunity{Title: "New logo", Company: "Pied Piper"})
	require.NoError(t, err)
	created, ok, err := cache.Get[models.Opportunity](inst.Store(), res.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusLead, created.Status)

	mock.SetFailureRate(1)
	_, err = inst.DeleteOpportunity(context.Background(), created.ID)
	require.Error(t, err)
	_, ok = inst.Store().Raw(res.Key)
	assert.True(t, ok, "failed delete restores the card")

	mock.SetFailureRate(0)
	_, err = inst.DeleteOpportunity(context.Background(), created.ID)
	require.NoError(t, err)
	_, ok = inst.Store().Raw(res.Key)
	assert.False(t, ok)
}

func TestInstanceFallsBackToPollingWhenRealtimeIsDown(t *testing.T) {
	mock, srv := newMockServer(t, MockOptions{Seed: 1})
	mock.SetOffline(true)
	inst := testInstance(t, srv.URL, nil)

	inst.Start()
	require.Eventually(t, func() bool { return inst.Channel("jobs").Status().Polling }, waitFor, 5*time.Millisecond)

	mock.Emit(models.Event{Category: models.CategoryJob, Type: "job_completed", Message: "export done", Timestamp: time.Now().Add(time.Second)})
	require.Eventually(t, func() bool { return inst.Channel("jobs").Log().Len() == 1 }, waitFor, 5*time.Millisecond)

	// realtime comes back; a manual reconnect takes over from the poller
	mock.SetOffline(false)
	inst.Reconnect()
	require.Eventually(t, func() bool { return allOpen(inst) }, waitFor, 5*time.Millisecond)
	assert.False(t, inst.Channel("jobs").Status().Polling)
}
