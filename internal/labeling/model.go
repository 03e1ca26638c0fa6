package labeling

import "time"

// Message is a chat message held by the store. Sentiment is nil until the
// message is labeled through its batch.
type Message struct {
	Username  string   `json:"username"`
	Text      string   `json:"message"`
	Sentiment *float64 `json:"sentiment,omitempty"`
	BatchID   string   `json:"batch_id,omitempty"`
}

// Batch is a group of messages captured together and labeled with one score.
type Batch struct {
	ID             string    `json:"batch_id"`
	ChannelName    string    `json:"channel_name"`
	CreatedAt      time.Time `json:"timestamp"`
	Messages       []Message `json:"messages"`
	SentimentScore *float64  `json:"sentiment_score,omitempty"`
}

// Labeled reports whether the batch has been given a score.
func (b *Batch) Labeled() bool {
	return b.SentimentScore != nil
}

// Channel owns its deduplicated message list and its batches.
type Channel struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Messages []Message `json:"messages"`
	Batches  []Batch   `json:"batches"`
}

func (c *Channel) findBatch(batchID string) *Batch {
	for i := range c.Batches {
		if c.Batches[i].ID == batchID {
			return &c.Batches[i]
		}
	}
	return nil
}

func (c *Channel) clone() *Channel {
	out := &Channel{
		Name:     c.Name,
		URL:      c.URL,
		Messages: cloneMessages(c.Messages),
		Batches:  make([]Batch, len(c.Batches)),
	}
	for i, b := range c.Batches {
		out.Batches[i] = b.clone()
	}
	return out
}

func (b Batch) clone() Batch {
	b.Messages = cloneMessages(b.Messages)
	b.SentimentScore = cloneScore(b.SentimentScore)
	return b
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		m.Sentiment = cloneScore(m.Sentiment)
		out[i] = m
	}
	return out
}

func cloneScore(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Snapshot is the persisted form of the whole store, keyed by channel name.
type Snapshot struct {
	Version  int                 `json:"version"`
	Channels map[string]*Channel `json:"channels"`
}

const snapshotVersion = 1

// Persister loads and saves store snapshots.
type Persister interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}
