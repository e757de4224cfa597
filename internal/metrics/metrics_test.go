package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, StateValue("idle"))
	assert.Equal(t, 1.0, StateValue("connecting"))
	assert.Equal(t, 2.0, StateValue("open"))
	assert.Equal(t, 3.0, StateValue("closed"))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(FramesReceived.WithLabelValues("test", "malformed"))
	FramesReceived.WithLabelValues("test", "malformed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FramesReceived.WithLabelValues("test", "malformed")))
}

func TestObserveAPIRequest(t *testing.T) {
	ObserveAPIRequest("GET", "/api/opportunities", "200", time.Now().Add(-10*time.Millisecond))
	assert.Equal(t, 1, testutil.CollectAndCount(APIRequestDuration, "lazyops_api_request_duration_seconds"))
}
