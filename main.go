package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/john/chatsentiment/internal/batcher"
	"github.com/john/chatsentiment/internal/config"
	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/kick"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/message"
	"github.com/john/chatsentiment/internal/metrics"
	"github.com/john/chatsentiment/internal/publisher"
	"github.com/john/chatsentiment/internal/retrain"
	"github.com/john/chatsentiment/internal/server"
	"github.com/john/chatsentiment/internal/textfeat"
	"github.com/john/chatsentiment/internal/train"
	"github.com/john/chatsentiment/internal/twitch"
)

func main() {
	log.Println("Chat sentiment service starting...")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load .env: %v", err)
	}

	// Get config path from environment variable or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded successfully")

	if len(cfg.Twitch.Channels) > 0 {
		log.Printf("Monitoring %d Twitch channels: %v", len(cfg.Twitch.Channels), cfg.Twitch.Channels)
	}
	if cfg.Kick.Enabled && len(cfg.Kick.Channels) > 0 {
		log.Printf("Monitoring %d Kick channels", len(cfg.Kick.Channels))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	m := metrics.New()

	// Labeling store
	var persister labeling.Persister
	if cfg.Store.Backend == "sqlite" {
		sqlitePersister, err := labeling.OpenSQLite(cfg.Store.Path, cfg.Store.KeepSnapshots)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer sqlitePersister.Close()
		persister = sqlitePersister
	} else {
		persister = labeling.NewFilePersister(cfg.Store.Path)
	}
	store, err := labeling.Open(persister)
	if err != nil {
		log.Fatalf("Failed to open labeling store: %v", err)
	}
	msgs, batches := store.CountLabeled()
	log.Printf("Labeling store ready: %d labeled messages in %d batches", msgs, batches)

	// Inference engine, serving the last artifact if one exists
	engine := inference.NewEngine()
	if model, err := engine.LoadFile(cfg.Model.ArtifactPath); err != nil {
		log.Printf("No model loaded from %s: %v", cfg.Model.ArtifactPath, err)
	} else {
		m.ArtifactInstalled(model.ModelType(), model.Version(), model.VocabularySize())
		log.Printf("Loaded %s model (version %s, %d features)", model.ModelType(), model.Version(), model.VocabularySize())
	}

	// Optional S3 artifact publishing
	var pub retrain.Publisher
	if cfg.S3.Bucket != "" {
		p, err := publisher.New(ctx, publisher.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			RoleARN:         cfg.S3.RoleARN,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			MaxRetries:      cfg.S3.MaxRetries,
		}, m)
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		pub = p
	}

	trainer := retrain.New(store, engine, retrain.Config{
		Options: train.RegressorOptions{
			Features: textfeat.Options{
				NgramMin:    cfg.Training.NgramMin,
				NgramMax:    cfg.Training.NgramMax,
				MinDF:       cfg.Training.MinDF,
				MaxFeatures: cfg.Training.MaxFeatures,
			},
			MinLabeled: cfg.Training.MinLabeledMessages,
		},
		ArtifactPath: cfg.Model.ArtifactPath,
		CSVPath:      cfg.Training.CSVPath,
		Publisher:    pub,
		Metrics:      m,
	})

	var scheduler *retrain.Scheduler
	if cfg.Training.Schedule != "" {
		scheduler, err = retrain.NewScheduler(trainer, cfg.Training.Schedule)
		if err != nil {
			log.Fatalf("Failed to create retrain scheduler: %v", err)
		}
	}

	// Live chat sources feed the batcher
	messageChan := make(chan message.Message, cfg.Batcher.BufferSize)

	var twitchConn *twitch.Connector
	if len(cfg.Twitch.Channels) > 0 {
		twitchConn = twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channels)
	}

	var kickConn *kick.Connector
	if cfg.Kick.Enabled && len(cfg.Kick.Channels) > 0 {
		channels := make([]kick.ChannelConfig, len(cfg.Kick.Channels))
		for i, ch := range cfg.Kick.Channels {
			channels[i] = kick.ChannelConfig{Slug: ch.Slug, ChatroomID: ch.ChatroomID}
		}
		kickConn = kick.New(channels)
	}

	bat := batcher.New(store, m, cfg.Batcher.BatchSize, time.Duration(cfg.Batcher.WindowSeconds)*time.Second)

	httpServer := server.New(cfg.Server.Addr, server.Deps{
		Store:   store,
		Engine:  engine,
		Trainer: trainer,
		Metrics: m,
	})

	var wg sync.WaitGroup

	if twitchConn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := twitchConn.Start(ctx, messageChan); err != nil && err != context.Canceled {
				log.Printf("Twitch connector error: %v", err)
			}
		}()
	}

	if kickConn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kickConn.Start(ctx, messageChan); err != nil && err != context.Canceled {
				log.Printf("Kick connector error: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bat.Start(ctx, messageChan); err != nil && err != context.Canceled {
			log.Printf("Batcher error: %v", err)
		}
	}()

	if scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Retrain scheduler error: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Println("All components started successfully")

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}

		// Stops sources, flushes pending batches, stops the scheduler
		cancel()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Println("All components stopped gracefully")
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
			os.Exit(1)
		}
	}()

	wg.Wait()
	log.Println("Chat sentiment service stopped")
}
