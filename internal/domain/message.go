package domain

import "time"

// Attachment is a binary blob attached to a chat message.
type Attachment struct {
	Filename    string
	ContentType string
	URL         string // platform URL the blob was fetched from, if any
	Data        []byte
}

// InboundMessage is a chat message delivered by a channel.
type InboundMessage struct {
	Channel      string // channel adapter name, e.g. "discord"
	ChatID       string // platform channel id
	SenderID     string
	SenderName   string
	Content      string
	Attachments  []Attachment
	AuthorIsSelf bool // sent by the bot itself; never dispatched
	Timestamp    time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Failed  bool // the reply reports a failed command
}
