package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/metrics"
	"github.com/john/chatsentiment/internal/retrain"
	"github.com/john/chatsentiment/internal/train"
)

const regressionArtifact = `{
  "vocabulary": {"great": 0, "bad": 1},
  "idf": [1, 1],
  "coefficients": [0.6, -0.6],
  "intercept": [0.5],
  "classes": [],
  "ngramRange": [1, 1],
  "modelType": "linear_regression",
  "version": "1.0"
}`

type fakeTrainer struct {
	err error
}

func (f *fakeTrainer) RunOnce(context.Context) (*retrain.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &retrain.Result{Messages: 5, ModelType: "linear_regression", Version: "1.0"}, nil
}

type testServer struct {
	store  *labeling.Store
	engine *inference.Engine
	router http.Handler
}

func newTestServer(t *testing.T, trainer Trainer) *testServer {
	t.Helper()
	store, err := labeling.Open(nil)
	require.NoError(t, err)
	engine := inference.NewEngine()
	return &testServer{
		store:  store,
		engine: engine,
		router: NewRouter(Deps{Store: store, Engine: engine, Trainer: trainer, Metrics: metrics.New()}),
	}
}

func (s *testServer) installModel(t *testing.T, artifact string) {
	t.Helper()
	m, err := inference.Load([]byte(artifact))
	require.NoError(t, err)
	s.engine.Install(m)
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func ingest(t *testing.T, s *testServer, channel string, pairs ...string) string {
	t.Helper()
	var msgs []map[string]string
	for i := 0; i+1 < len(pairs); i += 2 {
		msgs = append(msgs, map[string]string{"username": pairs[i], "message": pairs[i+1]})
	}
	rec, out := s.do(t, http.MethodPost, "/api/channels/"+channel+"/batches", map[string]any{
		"url":      "https://www.twitch.tv/" + channel,
		"messages": msgs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["batch_id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLabelingFlow(t *testing.T) {
	s := newTestServer(t, nil)
	id := ingest(t, s, "foo", "u1", "great stream", "u2", "bad stream")

	_, status := s.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, 0.0, status["labeled_messages"])
	assert.Equal(t, false, status["model_loaded"])

	rec, latest := s.do(t, http.MethodGet, "/api/channels/foo/batches/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, latest["batch_id"])

	rec, out := s.do(t, http.MethodPost, fmt.Sprintf("/api/channels/foo/batches/%s/label", id), map[string]any{"score": 0.8})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, out["labeled_messages"])
	assert.Equal(t, 1.0, out["labeled_batches"])

	_, status = s.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, 2.0, status["labeled_messages"])
	assert.Equal(t, 1.0, status["labeled_batches"])
	assert.Equal(t, 1.0, status["channels"])
}

func TestIngestValidation(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodPost, "/api/channels/foo/batches", map[string]any{
		"messages": []map[string]string{{"username": "u1", "message": "   "}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/channels/foo/batches", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodGet, "/api/channels/nope/batches/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ingest(t, s, "foo", "u1", "hello there")
	rec, _ = s.do(t, http.MethodPost, "/api/channels/foo/batches/missing/label", map[string]any{"score": 0.5})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/channels/foo/batches/missing/predict", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLabelRejectsOutOfRangeScore(t *testing.T) {
	s := newTestServer(t, nil)
	id := ingest(t, s, "foo", "u1", "hello there")
	for _, body := range []map[string]any{{"score": 1.5}, {"score": -0.1}, {}} {
		rec, _ := s.do(t, http.MethodPost, "/api/channels/foo/batches/"+id+"/label", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestPredictBatch(t *testing.T) {
	s := newTestServer(t, nil)
	id := ingest(t, s, "foo", "u1", "great great", "u2", "bad", "u3", "nothing known")

	rec, _ := s.do(t, http.MethodPost, "/api/channels/foo/batches/"+id+"/predict", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.installModel(t, regressionArtifact)
	rec, out := s.do(t, http.MethodPost, "/api/channels/foo/batches/"+id+"/predict", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	items := out["messages"].([]any)
	require.Len(t, items, 3)
	first := items[0].(map[string]any)
	assert.InDelta(t, 1.0, first["predicted_sentiment"], 1e-12)
	assert.Nil(t, first["actual_sentiment"])
	assert.InDelta(t, 0.0, items[1].(map[string]any)["predicted_sentiment"], 1e-12)
	assert.InDelta(t, 0.5, items[2].(map[string]any)["predicted_sentiment"], 1e-12)
	assert.InDelta(t, 0.5, out["average_sentiment"], 1e-12)
}

func TestPredictBatchNeedsRegressionModel(t *testing.T) {
	s := newTestServer(t, nil)
	id := ingest(t, s, "foo", "u1", "great stream")
	s.installModel(t, `{"vocabulary":{"great":0},"idf":[1],"coefficients":[1],"intercept":[0],
		"classes":["negative","positive"],"ngramRange":[1,1],"modelType":"logistic_regression","version":"1.0"}`)

	rec, _ := s.do(t, http.MethodPost, "/api/channels/foo/batches/"+id+"/predict", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScore(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodPost, "/api/score", map[string]string{"text": "great"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.installModel(t, regressionArtifact)
	rec, out := s.do(t, http.MethodPost, "/api/score", map[string]string{"text": "great"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0, out["score"], 1e-12)

	rec, _ = s.do(t, http.MethodPost, "/api/score", map[string]string{"text": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrain(t *testing.T) {
	rec, _ := newTestServer(t, nil).do(t, http.MethodPost, "/api/train", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, out := newTestServer(t, &fakeTrainer{}).do(t, http.MethodPost, "/api/train", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "linear_regression", out["model_type"])

	insufficient := fmt.Errorf("train regressor: %w", train.ErrInsufficientData)
	rec, _ = newTestServer(t, &fakeTrainer{err: insufficient}).do(t, http.MethodPost, "/api/train", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = newTestServer(t, &fakeTrainer{err: fmt.Errorf("disk full")}).do(t, http.MethodPost, "/api/train", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	ingest(t, s, "foo", "u1", "hello there")
	rec, _ := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatsentiment_batches_ingested_total{result="ok",source="manual"} 1`)
}
