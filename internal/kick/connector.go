package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"
	"github.com/john/chatsentiment/internal/message"
)

// DefaultAPIBase is the Kick channel lookup endpoint.
const DefaultAPIBase = "https://kick.com/api/v2/channels"

// ChannelConfig represents a Kick channel with optional pre-configured chatroom ID
type ChannelConfig struct {
	Slug       string
	ChatroomID int // 0 means not pre-configured, needs resolution
}

type channelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Resolver looks up chatroom IDs for channel slugs.
type Resolver struct {
	APIBase string
	Client  *http.Client
}

// NewResolver returns a resolver against the public Kick API.
func NewResolver() *Resolver {
	return &Resolver{
		APIBase: DefaultAPIBase,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve fetches the chatroom ID and canonical slug for a channel.
func (r *Resolver) Resolve(ctx context.Context, channelName string) (int, string, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(r.APIBase, "/"), channelName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}

	// Browser headers, the API rejects bare clients
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")

	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, "", fmt.Errorf("JSON decode failed: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return 0, "", fmt.Errorf("channel %q has no chatroom", channelName)
	}
	slug := info.Slug
	if slug == "" {
		slug = channelName
	}
	return info.Chatroom.ID, slug, nil
}

// Connector manages Kick chat connections
type Connector struct {
	channels []ChannelConfig
	resolver *Resolver
	idToSlug map[int]string // chatroom ID -> channel slug
	client   *kickchat.Client
}

// New creates a new Kick connector
func New(channels []ChannelConfig) *Connector {
	return &Connector{
		channels: channels,
		resolver: NewResolver(),
		idToSlug: make(map[int]string),
	}
}

// Start begins listening to Kick chat
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	log.Println("Resolving Kick channel IDs...")
	c.resolveAll(ctx)
	if len(c.idToSlug) == 0 {
		return fmt.Errorf("no valid Kick channels could be resolved")
	}

	log.Println("Connecting to Kick chat...")
	client, err := kickchat.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create Kick client: %w", err)
	}
	c.client = client
	log.Println("Connected to Kick WebSocket")

	for chatroomID, slug := range c.idToSlug {
		if err := c.client.JoinChannelByID(chatroomID); err != nil {
			log.Printf("Warning: Failed to join Kick channel '%s' (ID %d): %v", slug, chatroomID, err)
			continue
		}
		log.Printf("Joined Kick channel: %s", slug)
	}

	messages := c.client.ListenForMessages()

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					log.Println("Kick message channel closed")
					return
				}

				chatMessage, ok := c.convertMessage(msg)
				if !ok {
					continue
				}

				select {
				case messageChan <- chatMessage:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()

	log.Println("Disconnecting from Kick chat...")
	if c.client != nil {
		c.client.Close()
	}

	return ctx.Err()
}

func (c *Connector) resolveAll(ctx context.Context) {
	for _, channel := range c.channels {
		chatroomID, slug := channel.ChatroomID, channel.Slug
		if chatroomID > 0 {
			log.Printf("Using pre-configured Kick channel: %s -> ID %d", slug, chatroomID)
		} else {
			var err error
			chatroomID, slug, err = c.resolver.Resolve(ctx, channel.Slug)
			if err != nil {
				log.Printf("Warning: Failed to resolve Kick channel '%s': %v (skipping)", channel.Slug, err)
				continue
			}
			log.Printf("Resolved Kick channel: %s -> ID %d", slug, chatroomID)
		}
		c.idToSlug[chatroomID] = slug
	}
}

// convertMessage converts a Kick ChatMessage to message.Message
func (c *Connector) convertMessage(msg kickchat.ChatMessage) (message.Message, bool) {
	slug, ok := c.idToSlug[msg.ChatroomID]
	if !ok {
		log.Printf("Warning: Received message from unknown chatroom ID: %d", msg.ChatroomID)
		return message.Message{}, false
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return message.Message{}, false
	}

	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return message.Message{
		Platform:  "kick",
		Channel:   slug,
		Username:  msg.Sender.Username,
		Text:      text,
		Timestamp: ts.UTC(),
	}, true
}
