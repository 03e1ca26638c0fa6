package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/message"
	"github.com/john/chatsentiment/internal/train"
)

const maxBodyBytes = 1 << 20

type handler struct {
	deps Deps
}

type statusResponse struct {
	LabeledMessages int    `json:"labeled_messages"`
	LabeledBatches  int    `json:"labeled_batches"`
	Channels        int    `json:"channels"`
	ModelLoaded     bool   `json:"model_loaded"`
	ModelType       string `json:"model_type,omitempty"`
	ModelVersion    string `json:"model_version,omitempty"`
	VocabularySize  int    `json:"vocabulary_size,omitempty"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	msgs, batches := h.deps.Store.CountLabeled()
	resp := statusResponse{
		LabeledMessages: msgs,
		LabeledBatches:  batches,
		Channels:        len(h.deps.Store.ChannelNames()),
	}
	if m := h.deps.Engine.Current(); m != nil {
		resp.ModelLoaded = true
		resp.ModelType = m.ModelType()
		resp.ModelVersion = m.Version()
		resp.VocabularySize = m.VocabularySize()
	}
	respondJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondStoreError maps store errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, labeling.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, labeling.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("Store error: %v", err)
		respondError(w, http.StatusInternalServerError, "store failure")
	}
}

func (h *handler) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := h.deps.Store.Channel(chi.URLParam(r, "channel"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

type ingestRequest struct {
	URL      string `json:"url"`
	Messages []struct {
		Username string `json:"username"`
		Message  string `json:"message"`
	} `json:"messages"`
}

func (h *handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	channel := chi.URLParam(r, "channel")
	msgs := make([]message.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = message.Message{Platform: "manual", Channel: channel, Username: m.Username, Text: m.Message}
	}

	batch, err := h.deps.Store.IngestBatch(channel, req.URL, msgs)
	h.deps.Metrics.BatchIngested("manual", err)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, batch)
}

func (h *handler) latestBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.deps.Store.LatestBatch(chi.URLParam(r, "channel"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if batch == nil {
		respondError(w, http.StatusNotFound, "channel has no batches")
		return
	}
	respondJSON(w, http.StatusOK, batch)
}

// lookupBatch writes a 404 and returns nil when the batch does not exist.
func (h *handler) lookupBatch(w http.ResponseWriter, r *http.Request) *labeling.Batch {
	batch, err := h.deps.Store.GetBatch(chi.URLParam(r, "channel"), chi.URLParam(r, "batchID"))
	if err != nil {
		respondStoreError(w, err)
		return nil
	}
	if batch == nil {
		respondError(w, http.StatusNotFound, "batch not found")
		return nil
	}
	return batch
}

func (h *handler) getBatch(w http.ResponseWriter, r *http.Request) {
	if batch := h.lookupBatch(w, r); batch != nil {
		respondJSON(w, http.StatusOK, batch)
	}
}

type labelRequest struct {
	Score *float64 `json:"score"`
}

func (h *handler) labelBatch(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Score == nil || *req.Score < 0 || *req.Score > 1 {
		respondError(w, http.StatusBadRequest, "score must be between 0 and 1")
		return
	}

	channel, batchID := chi.URLParam(r, "channel"), chi.URLParam(r, "batchID")
	if err := h.deps.Store.LabelBatch(channel, batchID, *req.Score); err != nil {
		respondStoreError(w, err)
		return
	}
	h.deps.Metrics.BatchLabeled()
	msgs, batches := h.deps.Store.CountLabeled()
	respondJSON(w, http.StatusOK, map[string]any{
		"batch_id":         batchID,
		"sentiment_score":  *req.Score,
		"labeled_messages": msgs,
		"labeled_batches":  batches,
	})
}

type messagePrediction struct {
	Username  string   `json:"username"`
	Message   string   `json:"message"`
	Predicted float64  `json:"predicted_sentiment"`
	Actual    *float64 `json:"actual_sentiment"`
}

type batchPrediction struct {
	BatchID string              `json:"batch_id"`
	Average float64             `json:"average_sentiment"`
	Items   []messagePrediction `json:"messages"`
}

// currentRegressor writes an error and returns nil unless a regression model is serving.
func (h *handler) currentRegressor(w http.ResponseWriter) *inference.Model {
	m := h.deps.Engine.Current()
	if m == nil {
		respondError(w, http.StatusServiceUnavailable, "model not trained yet")
		return nil
	}
	if m.ModelType() != "linear_regression" {
		respondError(w, http.StatusConflict, "serving model is not a regression model")
		return nil
	}
	return m
}

func (h *handler) predictBatch(w http.ResponseWriter, r *http.Request) {
	batch := h.lookupBatch(w, r)
	if batch == nil {
		return
	}
	m := h.currentRegressor(w)
	if m == nil {
		return
	}

	resp := batchPrediction{BatchID: batch.ID, Items: make([]messagePrediction, len(batch.Messages))}
	var sum float64
	for i, msg := range batch.Messages {
		p := m.Score(msg.Text)
		h.deps.Metrics.Prediction(m.ModelType())
		sum += p.Score
		resp.Items[i] = messagePrediction{
			Username:  msg.Username,
			Message:   msg.Text,
			Predicted: p.Score,
			Actual:    msg.Sentiment,
		}
	}
	if len(batch.Messages) > 0 {
		resp.Average = sum / float64(len(batch.Messages))
	}
	respondJSON(w, http.StatusOK, resp)
}

type scoreRequest struct {
	Text string `json:"text"`
}

func (h *handler) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	p, err := h.deps.Engine.Score(req.Text)
	if errors.Is(err, inference.ErrNoModel) {
		respondError(w, http.StatusServiceUnavailable, "model not trained yet")
		return
	}
	if m := h.deps.Engine.Current(); m != nil {
		h.deps.Metrics.Prediction(m.ModelType())
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *handler) train(w http.ResponseWriter, r *http.Request) {
	if h.deps.Trainer == nil {
		respondError(w, http.StatusServiceUnavailable, "training is disabled")
		return
	}
	res, err := h.deps.Trainer.RunOnce(r.Context())
	switch {
	case errors.Is(err, train.ErrInsufficientData):
		respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Printf("Training failed: %v", err)
		respondError(w, http.StatusInternalServerError, "training failed")
	default:
		respondJSON(w, http.StatusOK, res)
	}
}
