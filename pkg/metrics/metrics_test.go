package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEvent(t *testing.T) {
	emitted := testutil.ToFloat64(EventsEmitted.WithLabelValues("RUN_STARTED"))
	suppressed := testutil.ToFloat64(EventsSuppressed.WithLabelValues("RUN_STARTED"))

	RecordEvent("RUN_STARTED", true)
	RecordEvent("RUN_STARTED", false)
	RecordEvent("RUN_STARTED", false)

	assert.Equal(t, emitted+1, testutil.ToFloat64(EventsEmitted.WithLabelValues("RUN_STARTED")))
	assert.Equal(t, suppressed+2, testutil.ToFloat64(EventsSuppressed.WithLabelValues("RUN_STARTED")))
}

func TestRecordLLMStream(t *testing.T) {
	in := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("test-model", "in"))
	out := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("test-model", "out"))

	RecordLLMStream("test-model", "success", 1.5, 10, 4)

	assert.Equal(t, in+10, testutil.ToFloat64(LLMTokensTotal.WithLabelValues("test-model", "in")))
	assert.Equal(t, out+4, testutil.ToFloat64(LLMTokensTotal.WithLabelValues("test-model", "out")))
}

func TestSSEConnections(t *testing.T) {
	before := testutil.ToFloat64(SSEConnectionsActive)

	IncrementSSEConnections()
	IncrementSSEConnections()
	assert.Equal(t, before+2, testutil.ToFloat64(SSEConnectionsActive))

	DecrementSSEConnections()
	DecrementSSEConnections()
	assert.Equal(t, before, testutil.ToFloat64(SSEConnectionsActive))
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/health", "OK"))
	RecordRequest("GET", "/health", "OK", 0.01)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/health", "OK")))
}
