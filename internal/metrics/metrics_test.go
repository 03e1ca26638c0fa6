package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MessageReceived("twitch")
	m.MessageReceived("twitch")
	m.BatchIngested("live", nil)
	m.BatchIngested("live", errors.New("boom"))
	m.TrainingRun("regressor", time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("twitch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesIngested.WithLabelValues("live", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trainingRuns.WithLabelValues("regressor", "ok")))
}

func TestArtifactInstalledReplacesSeries(t *testing.T) {
	m := New()
	m.ArtifactInstalled("linear_regression", "1.0", 10)
	m.ArtifactInstalled("logistic_regression", "1.0", 20)

	assert.Equal(t, 1, testutil.CollectAndCount(m.artifactInfo))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.artifactFeatures))
}

func TestHandler(t *testing.T) {
	m := New()
	m.BatchLabeled()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatsentiment_batches_labeled_total 1")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageReceived("kick")
		m.BatchLabeled()
		m.ArtifactInstalled("x", "1.0", 1)
		m.Prediction("x")
	})
}
