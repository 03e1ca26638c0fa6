package message

import "time"

// Message is a chat message captured from a live source (Twitch, Kick) or
// pasted in manually. Only Username and Text are required downstream.
type Message struct {
	Platform  string    `json:"platform,omitempty"` // "twitch", "kick", "manual"
	Channel   string    `json:"channel,omitempty"`  // Channel name or slug
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
