package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordTurn("text", "ok", 1.2)
	m.RecordModelCall("turn", "ok")
	m.RecordRetry("llm", "rate_limit")
	m.RecordWidget("task", true)
	m.RecordWidget("edc_date", false)
	m.RecordCommit("committed")
	m.RecordImageJob("dropped")
	m.SetImageQueueDepth(4)
	m.RecordTranscription("failed")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"cristos_turns_total",
		"cristos_turn_duration_seconds",
		"cristos_widgets_total",
		"cristos_image_queue_depth",
		"cristos_retries_total",
		"cristos_transcriptions_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("text", "ok", 1)
		m.RecordCommit("committed")
		m.SetImageQueueDepth(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCommit("committed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cristos_commits_total{result="committed"} 1`)
}
