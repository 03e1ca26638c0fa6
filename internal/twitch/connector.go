package twitch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"github.com/john/chatsentiment/internal/message"
)

// Connector manages Twitch chat connections
type Connector struct {
	username string
	oauth    string
	channels []string
	client   *twitch.Client
}

// New creates a new Twitch connector. Without an OAuth token the connector
// joins anonymously, which is enough for reading chat.
func New(username, oauth string, channels []string) *Connector {
	return &Connector{
		username: username,
		oauth:    oauth,
		channels: channels,
	}
}

// Start begins listening to Twitch chat
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	if c.oauth == "" {
		c.client = twitch.NewAnonymousClient()
	} else {
		c.client = twitch.NewClient(c.username, c.oauth)
	}

	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		chatMessage, ok := convertMessage(msg)
		if !ok {
			return
		}

		select {
		case messageChan <- chatMessage:
		case <-ctx.Done():
			return
		}
	})

	c.client.OnConnect(func() {
		log.Println("Connected to Twitch IRC")
	})

	c.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		log.Println("Reconnecting to Twitch IRC...")
	})

	for _, channel := range c.channels {
		c.client.Join(channel)
		log.Printf("Joined channel: %s", channel)
	}

	go func() {
		if err := c.client.Connect(); err != nil {
			log.Printf("Twitch IRC connection error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Disconnecting from Twitch IRC...")
	c.client.Disconnect()

	return ctx.Err()
}

// convertMessage maps a Twitch chat line onto message.Message, dropping
// lines with no text.
func convertMessage(msg twitch.PrivateMessage) (message.Message, bool) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return message.Message{}, false
	}

	username := msg.User.DisplayName
	if username == "" {
		username = msg.User.Name
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return message.Message{
		Platform:  "twitch",
		Channel:   strings.TrimPrefix(msg.Channel, "#"),
		Username:  username,
		Text:      text,
		Timestamp: ts.UTC(),
	}, true
}
