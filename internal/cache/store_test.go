package cache

import (
	"context"
	"testing"

	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmAndGet(t *testing.T) {
	s := NewStore()
	key := Key("job", "j1")
	require.NoError(t, s.Confirm(key, models.Job{ID: "j1", Name: "nightly", State: models.JobRunning}))

	job, ok, err := Get[models.Job](s, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nightly", job.Name)

	_, ok, err = Get[models.Job](s, Key("job", "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmRejectsUnencodable(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Confirm("bad", make(chan int)))
}

func TestKeysAndList(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Confirm(Key("opportunity", "b"), models.Opportunity{ID: "b"}))
	require.NoError(t, s.Confirm(Key("opportunity", "a"), models.Opportunity{ID: "a"}))
	require.NoError(t, s.Confirm(Key("job", "x"), models.Job{ID: "x"}))

	assert.Equal(t, []string{"opportunity:a", "opportunity:b"}, s.Keys("opportunity:"))

	opps, err := List[models.Opportunity](s, "opportunity:")
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "a", opps[0].ID)

	s.Remove(Key("opportunity", "a"))
	assert.Equal(t, []string{"opportunity:b"}, s.Keys("opportunity:"))
}

func TestCollectionStaleness(t *testing.T) {
	s := NewStore()
	assert.True(t, s.IsStale("opportunities"), "never fetched")

	s.MarkFresh("opportunities")
	assert.False(t, s.IsStale("opportunities"))

	s.Invalidate("opportunities")
	assert.True(t, s.IsStale("opportunities"))
	assert.Equal(t, 1, s.Invalidations("opportunities"))
	assert.Equal(t, 0, s.Invalidations("jobs"))
}

func TestReplaceCollectionKeepsInFlightKeys(t *testing.T) {
	s := NewStore()
	c := NewCoordinator(s)
	require.NoError(t, s.Confirm(Key("opportunity", "gone"), models.Opportunity{ID: "gone"}))
	require.NoError(t, s.Confirm(Key("opportunity", "moving"), models.Opportunity{ID: "moving", Status: models.StatusLead}))

	_, err := MutateValue(context.Background(), c, Key("opportunity", "moving"),
		models.Opportunity{ID: "moving", Status: models.StatusWon},
		func(ctx context.Context) error {
			// a refetch lands while the move is in flight
			return s.ReplaceCollection("opportunities", "opportunity:", map[string]any{
				Key("opportunity", "moving"): models.Opportunity{ID: "moving", Status: models.StatusLead},
				Key("opportunity", "fresh"):  models.Opportunity{ID: "fresh"},
			})
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"opportunity:fresh", "opportunity:moving"}, s.Keys("opportunity:"))
	moving, _, _ := Get[models.Opportunity](s, Key("opportunity", "moving"))
	assert.Equal(t, models.StatusWon, moving.Status)
}

func TestObserverSeesChanges(t *testing.T) {
	s := NewStore()
	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Confirm("k", 1))
	s.Invalidate("jobs")
	s.Remove("k")
	s.Remove("k") // no-op

	require.Len(t, changes, 3)
	assert.Equal(t, "k", changes[0].Key)
	assert.Equal(t, []string{"jobs"}, changes[1].Collections)
}

func TestBeginSnapshotsWhatItReplaces(t *testing.T) {
	s := NewStore()
	key := Key("job", "j1")
	require.NoError(t, s.Confirm(key, models.Job{ID: "j1", State: models.JobQueued}))
	before, _ := s.Raw(key)

	snap, version := s.begin(key, []byte(`{"id":"j1","state":"running"}`), false)
	assert.True(t, snap.Present)
	assert.Equal(t, before, snap.Data)
	assert.Less(t, snap.Version, version)
	assert.True(t, s.IsSpeculative(key))
	assert.True(t, s.Pending(key))

	require.True(t, s.rollback(snap, version))
	after, _ := s.Raw(key)
	assert.Equal(t, before, after)
	assert.False(t, s.Pending(key))
}
