package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPipelineRun("CREATE_BOT", "success")
	m.RecordPipelineRun("CREATE_BOT", "success")
	m.RecordLLMCall("builder", "ok")
	m.RecordDeductionFailure()
	m.RecordPublish("verify", false)
	m.RecordWebhookUpdate("master", "message")
	m.RecordRateLimited()
	m.RecordJobError("daily_reset")
	m.ObserveStage("planner", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("CREATE_BOT", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("builder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeductionFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishResults.WithLabelValues("verify", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookUpdates.WithLabelValues("master", "message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduledJobErrors.WithLabelValues("daily_reset")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPipelineRun("HELP", "success")
		m.ObserveStage("intent", time.Second)
		m.RecordPublish("commit", true)
		m.RecordDeductionFailure()
	})
}
