// Package retrain rebuilds the regression artifact from the labeling store,
// on demand or on a cron schedule, and swaps it into the inference engine.
package retrain

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/john/chatsentiment/internal/atomicfile"
	"github.com/john/chatsentiment/internal/export"
	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/metrics"
	"github.com/john/chatsentiment/internal/train"
)

// Source supplies labeled training rows.
type Source interface {
	LabeledMessages() []labeling.LabeledText
}

// Publisher distributes a serialized artifact.
type Publisher interface {
	Publish(ctx context.Context, data []byte, modelType string) (string, error)
}

// Result describes a completed run.
type Result struct {
	Messages       int    `json:"labeled_messages"`
	VocabularySize int    `json:"vocabulary_size"`
	ModelType      string `json:"model_type"`
	Version        string `json:"version"`
	ArtifactPath   string `json:"artifact_path"`
	PublishedKey   string `json:"published_key,omitempty"`
}

// Trainer runs the regressor path end to end.
type Trainer struct {
	source       Source
	engine       *inference.Engine
	publisher    Publisher
	metrics      *metrics.Metrics
	opts         train.RegressorOptions
	artifactPath string
	csvPath      string

	mu sync.Mutex // one run at a time
}

// Config holds the paths and options of a Trainer. Publisher and CSVPath are optional.
type Config struct {
	Options      train.RegressorOptions
	ArtifactPath string
	CSVPath      string
	Publisher    Publisher
	Metrics      *metrics.Metrics
}

// New creates a trainer that installs its artifacts into engine.
func New(source Source, engine *inference.Engine, cfg Config) *Trainer {
	return &Trainer{
		source:       source,
		engine:       engine,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		opts:         cfg.Options,
		artifactPath: cfg.ArtifactPath,
		csvPath:      cfg.CSVPath,
	}
}

// RunOnce trains, exports and installs a new artifact. The artifact file and
// the serving model are only replaced after every earlier step succeeded. A
// failed upload is logged and does not fail the run.
func (t *Trainer) RunOnce(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	res, err := t.run(ctx)
	t.metrics.TrainingRun("regressor", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	log.Printf("Retrained regressor on %d labeled messages (%d features) in %v",
		res.Messages, res.VocabularySize, time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (t *Trainer) run(ctx context.Context) (*Result, error) {
	rows := t.source.LabeledMessages()

	if t.csvPath != "" {
		var buf bytes.Buffer
		if err := train.WriteLabeledCSV(&buf, rows); err != nil {
			return nil, fmt.Errorf("encode training csv: %w", err)
		}
		if err := atomicfile.Write(t.csvPath, buf.Bytes()); err != nil {
			log.Printf("Warning: failed to write training data to %s: %v", t.csvPath, err)
		}
	}

	reg, err := train.FitRegressor(rows, t.opts)
	if err != nil {
		return nil, fmt.Errorf("train regressor: %w", err)
	}
	artifact, err := export.FromRegressor(reg)
	if err != nil {
		return nil, err
	}
	data, err := artifact.Marshal()
	if err != nil {
		return nil, err
	}

	// Load through the engine's own decoder before anything is replaced.
	model, err := inference.Load(data)
	if err != nil {
		return nil, fmt.Errorf("verify artifact: %w", err)
	}
	if err := atomicfile.Write(t.artifactPath, data); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	t.engine.Install(model)
	t.metrics.ArtifactInstalled(model.ModelType(), model.Version(), model.VocabularySize())

	res := &Result{
		Messages:       len(rows),
		VocabularySize: model.VocabularySize(),
		ModelType:      model.ModelType(),
		Version:        model.Version(),
		ArtifactPath:   t.artifactPath,
	}
	if t.publisher != nil {
		key, err := t.publisher.Publish(ctx, data, model.ModelType())
		if err != nil {
			log.Printf("Warning: failed to publish artifact: %v", err)
		} else {
			res.PublishedKey = key
		}
	}
	return res, nil
}

// Scheduler runs a Trainer on a cron schedule
type Scheduler struct {
	trainer *Trainer
	spec    string
}

// NewScheduler validates the standard five-field cron expression.
func NewScheduler(trainer *Trainer, spec string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{trainer: trainer, spec: spec}, nil
}

// Start runs scheduled retraining until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	log.Printf("Retraining scheduled: %s", s.spec)
	c.Start()

	<-ctx.Done()

	log.Println("Retrain scheduler shutting down...")
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.trainer.RunOnce(ctx); err != nil {
		log.Printf("Scheduled retraining failed, keeping current artifact: %v", err)
	}
}
