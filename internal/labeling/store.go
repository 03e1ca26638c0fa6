// Package labeling holds chat channels, their message batches and the
// sentiment scores assigned to those batches.
package labeling

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/john/chatsentiment/internal/message"
)

var (
	// ErrValidation is returned for malformed or empty ingest input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned for an unknown channel or batch.
	ErrNotFound = errors.New("not found")
)

const batchIDLayout = "20060102150405"

// Store is the process-wide labeling state. Every mutation is persisted as a
// full snapshot before it returns; a failed save rolls the mutation back.
type Store struct {
	mu        sync.Mutex
	channels  map[string]*Channel
	persister Persister
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for batch ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates a store, loading the existing snapshot from p if there is one.
// A nil persister keeps the store in memory only.
func Open(p Persister, opts ...Option) (*Store, error) {
	s := &Store{
		channels:  make(map[string]*Channel),
		persister: p,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if p == nil {
		return s, nil
	}
	snap, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		for name, ch := range snap.Channels {
			if ch != nil {
				s.channels[name] = ch
			}
		}
		log.Printf("Loaded labeling store with %d channels", len(s.channels))
	}
	return s, nil
}

// IngestBatch records msgs as a new batch for channelName, creating the
// channel if needed. Messages whose text is already known to the channel are
// not added to the channel list again but always appear in the new batch.
func (s *Store) IngestBatch(channelName, url string, msgs []message.Message) (*Batch, error) {
	channelName = strings.TrimSpace(channelName)
	if channelName == "" {
		return nil, fmt.Errorf("%w: channel name is required", ErrValidation)
	}

	var batchMsgs []Message
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		username := m.Username
		if username == "" {
			username = "Unknown"
		}
		batchMsgs = append(batchMsgs, Message{Username: username, Text: m.Text})
	}
	if len(batchMsgs) == 0 {
		return nil, fmt.Errorf("%w: no valid messages provided", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.channels[channelName]
	ch := &Channel{Name: channelName, URL: url}
	if existed {
		ch = prev.clone()
	}
	if ch.URL == "" {
		ch.URL = url
	}

	createdAt := s.now()
	batchID := uniqueBatchID(ch, channelName, createdAt)

	known := make(map[string]struct{}, len(ch.Messages))
	for _, m := range ch.Messages {
		known[m.Text] = struct{}{}
	}
	for i := range batchMsgs {
		batchMsgs[i].BatchID = batchID
		if _, ok := known[batchMsgs[i].Text]; ok {
			continue
		}
		known[batchMsgs[i].Text] = struct{}{}
		ch.Messages = append(ch.Messages, batchMsgs[i])
	}

	batch := Batch{
		ID:          batchID,
		ChannelName: channelName,
		CreatedAt:   createdAt,
		Messages:    batchMsgs,
	}
	ch.Batches = append(ch.Batches, batch)

	s.channels[channelName] = ch
	if err := s.save(); err != nil {
		if existed {
			s.channels[channelName] = prev
		} else {
			delete(s.channels, channelName)
		}
		return nil, err
	}

	log.Printf("Created batch %s with %d messages for channel %s", batchID, len(batchMsgs), channelName)
	out := batch.clone()
	return &out, nil
}

func uniqueBatchID(ch *Channel, channelName string, at time.Time) string {
	base := fmt.Sprintf("%s-%s", channelName, at.Format(batchIDLayout))
	id := base
	for n := 2; ch.findBatch(id) != nil; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

// LabelBatch sets the batch score and copies it onto every message of the
// batch and onto channel-level messages with the same text and username.
func (s *Store) LabelBatch(channelName, batchID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.channels[channelName]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelName)
	}
	if prev.findBatch(batchID) == nil {
		return fmt.Errorf("%w: batch %q in channel %q", ErrNotFound, batchID, channelName)
	}

	ch := prev.clone()
	batch := ch.findBatch(batchID)
	batch.SentimentScore = &score
	for i := range batch.Messages {
		m := &batch.Messages[i]
		for j := range ch.Messages {
			cm := &ch.Messages[j]
			if cm.Text == m.Text && cm.Username == m.Username {
				cm.Sentiment = cloneScore(&score)
			}
		}
		m.Sentiment = cloneScore(&score)
	}

	s.channels[channelName] = ch
	if err := s.save(); err != nil {
		s.channels[channelName] = prev
		return err
	}
	return nil
}

// GetBatch returns a copy of the batch, or nil if the channel has no such batch.
func (s *Store) GetBatch(channelName, batchID string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrNotFound, channelName)
	}
	b := ch.findBatch(batchID)
	if b == nil {
		return nil, nil
	}
	out := b.clone()
	return &out, nil
}

// LatestBatch returns a copy of the most recently created batch of the
// channel, or nil if it has none. Equal timestamps resolve to the batch
// inserted last.
func (s *Store) LatestBatch(channelName string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrNotFound, channelName)
	}
	var latest *Batch
	for i := range ch.Batches {
		b := &ch.Batches[i]
		if latest == nil || !b.CreatedAt.Before(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := latest.clone()
	return &out, nil
}

// CountLabeled returns the number of messages and batches in labeled batches.
func (s *Store) CountLabeled() (messages, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		for i := range ch.Batches {
			if ch.Batches[i].Labeled() {
				batches++
				messages += len(ch.Batches[i].Messages)
			}
		}
	}
	return messages, batches
}

// LabeledText is one training row: a message text and its batch score.
type LabeledText struct {
	Text      string
	Sentiment float64
}

// LabeledMessages returns every message of every labeled batch paired with
// the batch score, ordered by channel name then batch order.
func (s *Store) LabeledMessages() []LabeledText {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []LabeledText
	for _, name := range s.sortedNames() {
		for _, b := range s.channels[name].Batches {
			if !b.Labeled() {
				continue
			}
			for _, m := range b.Messages {
				rows = append(rows, LabeledText{Text: m.Text, Sentiment: *b.SentimentScore})
			}
		}
	}
	return rows
}

// Channel returns a copy of the named channel.
func (s *Store) Channel(name string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrNotFound, name)
	}
	return ch.clone(), nil
}

// ChannelNames returns the known channel names in sorted order.
func (s *Store) ChannelNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedNames()
}

func (s *Store) sortedNames() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) save() error {
	if s.persister == nil {
		return nil
	}
	snap := &Snapshot{Version: snapshotVersion, Channels: s.channels}
	if err := s.persister.Save(snap); err != nil {
		log.Printf("Error saving labeling store: %v", err)
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
