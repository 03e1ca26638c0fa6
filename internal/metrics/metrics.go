// Package metrics holds the Prometheus collectors for the sentiment pipeline.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsentiment"

// Metrics groups the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	batchesIngested  *prometheus.CounterVec
	batchesLabeled   prometheus.Counter
	trainingRuns     *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec
	artifactInfo     *prometheus.GaugeVec
	artifactFeatures prometheus.Gauge
	predictions      *prometheus.CounterVec
	artifactUploads  *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Chat messages received from live sources.",
		}, []string{"platform"}),
		batchesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_ingested_total",
			Help:      "Batches ingested into the labeling store.",
		}, []string{"source", "result"}),
		batchesLabeled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_labeled_total",
			Help:      "Batch labels applied.",
		}),
		trainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by trainer and result.",
		}, []string{"trainer", "result"}),
		trainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time of training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"trainer"}),
		artifactInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_info",
			Help:      "Serving artifact, value is always 1.",
		}, []string{"model_type", "version"}),
		artifactFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_vocabulary_size",
			Help:      "Vocabulary size of the serving artifact.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Texts scored by the inference engine.",
		}, []string{"model_type"}),
		artifactUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_uploads_total",
			Help:      "Artifact uploads to object storage.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesReceived,
		m.batchesIngested,
		m.batchesLabeled,
		m.trainingRuns,
		m.trainingDuration,
		m.artifactInfo,
		m.artifactFeatures,
		m.predictions,
		m.artifactUploads,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MessageReceived(platform string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(platform).Inc()
}

func (m *Metrics) BatchIngested(source string, err error) {
	if m == nil {
		return
	}
	m.batchesIngested.WithLabelValues(source, result(err)).Inc()
}

func (m *Metrics) BatchLabeled() {
	if m == nil {
		return
	}
	m.batchesLabeled.Inc()
}

func (m *Metrics) TrainingRun(trainer string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.trainingRuns.WithLabelValues(trainer, result(err)).Inc()
	m.trainingDuration.WithLabelValues(trainer).Observe(took.Seconds())
}

// ArtifactInstalled replaces the artifact_info series with the new model.
func (m *Metrics) ArtifactInstalled(modelType, version string, vocabularySize int) {
	if m == nil {
		return
	}
	m.artifactInfo.Reset()
	m.artifactInfo.WithLabelValues(modelType, version).Set(1)
	m.artifactFeatures.Set(float64(vocabularySize))
}

func (m *Metrics) Prediction(modelType string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(modelType).Inc()
}

func (m *Metrics) ArtifactUploaded(err error) {
	if m == nil {
		return
	}
	m.artifactUploads.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
