package batcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/message"
	"github.com/john/chatsentiment/internal/metrics"
)

// Ingester receives completed batches.
type Ingester interface {
	IngestBatch(channelName, url string, msgs []message.Message) (*labeling.Batch, error)
}

// buffer collects messages for one channel until it is flushed
type buffer struct {
	platform string
	channel  string
	openedAt time.Time
	messages []message.Message
}

// Batcher groups live chat messages per channel into labeling batches
type Batcher struct {
	ingester  Ingester
	metrics   *metrics.Metrics
	batchSize int
	window    time.Duration
	tick      time.Duration
	now       func() time.Time

	buffers map[string]*buffer // key: channel name
	mu      sync.Mutex
}

// New creates a new batcher. A batch is handed to the ingester once it holds
// batchSize messages or window has passed since its first message.
func New(ingester Ingester, m *metrics.Metrics, batchSize int, window time.Duration) *Batcher {
	tick := window / 4
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return &Batcher{
		ingester:  ingester,
		metrics:   m,
		batchSize: batchSize,
		window:    window,
		tick:      tick,
		now:       time.Now,
		buffers:   make(map[string]*buffer),
	}
}

// Start consumes messages until ctx is cancelled, then flushes every
// non-empty buffer.
func (b *Batcher) Start(ctx context.Context, messageChan <-chan message.Message) error {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for {
		select {
		case msg := <-messageChan:
			b.add(msg)

		case <-ticker.C:
			b.flushExpired()

		case <-ctx.Done():
			log.Println("Batcher shutting down, flushing buffers...")
			b.flushAll()
			return ctx.Err()
		}
	}
}

func (b *Batcher) add(msg message.Message) {
	b.metrics.MessageReceived(msg.Platform)

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.buffers[msg.Channel]
	if buf == nil {
		buf = &buffer{
			platform: msg.Platform,
			channel:  msg.Channel,
			openedAt: b.now(),
			messages: make([]message.Message, 0, b.batchSize),
		}
		b.buffers[msg.Channel] = buf
	}
	buf.messages = append(buf.messages, msg)

	if len(buf.messages) >= b.batchSize {
		b.flush(buf)
	}
}

// flushExpired flushes buffers whose window has elapsed
func (b *Batcher) flushExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, buf := range b.buffers {
		if len(buf.messages) > 0 && now.Sub(buf.openedAt) >= b.window {
			b.flush(buf)
		}
	}
}

func (b *Batcher) flushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, buf := range b.buffers {
		if len(buf.messages) > 0 {
			b.flush(buf)
		}
	}
	log.Println("All batches flushed")
}

// flush hands the buffer to the ingester and resets it. Caller holds b.mu.
func (b *Batcher) flush(buf *buffer) {
	msgs := buf.messages
	buf.messages = make([]message.Message, 0, b.batchSize)
	delete(b.buffers, buf.channel)

	batch, err := b.ingester.IngestBatch(buf.channel, ChannelURL(buf.platform, buf.channel), msgs)
	b.metrics.BatchIngested("live", err)
	if err != nil {
		log.Printf("Error ingesting batch for %s: %v", buf.channel, err)
		return
	}
	log.Printf("Flushed %d messages from %s into batch %s", len(msgs), buf.channel, batch.ID)
}

// ChannelURL returns the public page of a channel on its platform.
func ChannelURL(platform, channel string) string {
	switch platform {
	case "twitch":
		return fmt.Sprintf("https://www.twitch.tv/%s", channel)
	case "kick":
		return fmt.Sprintf("https://kick.com/%s", channel)
	default:
		return ""
	}
}
