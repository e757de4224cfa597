package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogBoundedOldestFirst(t *testing.T) {
	log := NewEventLog(100)
	for i := 0; i < 250; i++ {
		log.Append(models.Event{ID: fmt.Sprintf("e%03d", i)})
		assert.LessOrEqual(t, log.Len(), 100)
	}

	events := log.Events()
	require.Len(t, events, 100)
	assert.Equal(t, "e150", events[0].ID)
	assert.Equal(t, "e249", events[99].ID)

	latest, ok := log.Latest()
	require.True(t, ok)
	assert.Equal(t, "e249", latest.ID)

	last := log.Last(3)
	assert.Equal(t, []string{"e247", "e248", "e249"}, []string{last[0].ID, last[1].ID, last[2].ID})
	assert.Len(t, log.Last(1000), 100)
}

func TestEventLogAppendReportsEviction(t *testing.T) {
	log := NewEventLog(2)
	assert.False(t, log.Append(models.Event{ID: "a"}))
	assert.False(t, log.Append(models.Event{ID: "b"}))
	assert.True(t, log.Append(models.Event{ID: "c"}))
	assert.Equal(t, 2, log.Cap())
}

func TestEventLogDefaultCapacityAndClear(t *testing.T) {
	log := NewEventLog(0)
	assert.Equal(t, DefaultLogCapacity, log.Cap())

	log.Append(models.Event{ID: "a"})
	log.Clear()
	assert.Zero(t, log.Len())
	_, ok := log.Latest()
	assert.False(t, ok)
}

func TestEventLogFilter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := NewEventLog(100)
	log.Append(models.Event{ID: "1", Timestamp: base, Category: models.CategoryJob, Type: "job_started", Severity: models.SeverityInfo, Message: "export started"})
	log.Append(models.Event{ID: "2", Timestamp: base.Add(time.Minute), Category: models.CategoryJob, Type: "job_failed", Severity: models.SeverityError, Message: "export failed"})
	log.Append(models.Event{ID: "3", Timestamp: base.Add(2 * time.Minute), Category: models.CategorySession, Type: "task_started", Severity: models.SeverityDebug, SessionID: "s1"})

	ids := func(events []models.Event) []string {
		out := []string{}
		for _, ev := range events {
			out = append(out, ev.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(log.Filter(Query{})))
	assert.Equal(t, []string{"1", "2"}, ids(log.Filter(Query{Category: models.CategoryJob})))
	assert.Equal(t, []string{"2"}, ids(log.Filter(Query{MinSeverity: models.SeverityWarning})))
	assert.Equal(t, []string{"3"}, ids(log.Filter(Query{SessionID: "s1"})))
	assert.Equal(t, []string{"2"}, ids(log.Filter(Query{Kind: models.KindJobFailed})))
	assert.Equal(t, []string{"1", "2"}, ids(log.Filter(Query{Text: "EXPORT"})))
	assert.Equal(t, []string{"3"}, ids(log.Filter(Query{Text: "task_"})))
	assert.Equal(t, []string{"2", "3"}, ids(log.Filter(Query{Since: base.Add(time.Minute)})))
}
