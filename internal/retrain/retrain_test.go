package retrain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/train"
)

type staticSource []labeling.LabeledText

func (s staticSource) LabeledMessages() []labeling.LabeledText { return s }

type fakePublisher struct {
	err       error
	published [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, modelType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, data)
	return "models/" + modelType + ".json", nil
}

var rows = staticSource{
	{Text: "great stream tonight", Sentiment: 0.9},
	{Text: "boring gameplay again", Sentiment: 0.2},
	{Text: "love this streamer", Sentiment: 0.95},
	{Text: "terrible audio quality", Sentiment: 0.1},
	{Text: "hype train incoming", Sentiment: 0.8},
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	engine := inference.NewEngine()
	pub := &fakePublisher{}
	tr := New(rows, engine, Config{
		Options:      train.DefaultRegressorOptions(),
		ArtifactPath: filepath.Join(dir, "sentiment_model.json"),
		CSVPath:      filepath.Join(dir, "labeled_chat_messages.csv"),
		Publisher:    pub,
	})

	res, err := tr.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Messages)
	assert.Equal(t, "linear_regression", res.ModelType)
	assert.Equal(t, "1.0", res.Version)
	assert.Equal(t, "models/linear_regression.json", res.PublishedKey)
	require.Len(t, pub.published, 1)

	onDisk, err := inference.LoadFile(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, onDisk.VocabularySize(), res.VocabularySize)

	p, err := engine.Score("great stream tonight")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, p.Score, 1e-6)

	csv, err := os.ReadFile(filepath.Join(dir, "labeled_chat_messages.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "text,sentiment\ngreat stream tonight,0.9\n")
}

func TestRunOnceInsufficientDataKeepsArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentiment_model.json")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	engine := inference.NewEngine()
	tr := New(rows[:4], engine, Config{Options: train.DefaultRegressorOptions(), ArtifactPath: path})

	_, err := tr.RunOnce(context.Background())
	assert.ErrorIs(t, err, train.ErrInsufficientData)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	assert.Nil(t, engine.Current())
}

func TestRunOncePublishFailureIsNotFatal(t *testing.T) {
	engine := inference.NewEngine()
	tr := New(rows, engine, Config{
		Options:      train.DefaultRegressorOptions(),
		ArtifactPath: filepath.Join(t.TempDir(), "model.json"),
		Publisher:    &fakePublisher{err: errors.New("access denied")},
	})

	res, err := tr.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.PublishedKey)
	assert.NotNil(t, engine.Current())
}

func TestScheduler(t *testing.T) {
	tr := New(rows, inference.NewEngine(), Config{ArtifactPath: filepath.Join(t.TempDir(), "model.json")})

	_, err := NewScheduler(tr, "not a schedule")
	assert.Error(t, err)

	s, err := NewScheduler(tr, "0 */6 * * *")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
