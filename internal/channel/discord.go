package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"senechal/internal/domain"
	"senechal/internal/metrics"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen          = 2000
	defaultMaxAttachmentBytes = 10 << 20
	attachmentTimeout         = 30 * time.Second
)

var _ domain.Channel = (*Discord)(nil)

// Discord implements domain.Channel for Discord.
type Discord struct {
	token              string
	watches            func(chatID string) bool
	needsAttachments   func(chatID, content string) bool
	maxAttachmentBytes int64
	http               *http.Client
	session            *discordgo.Session
	logger             *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token  string
	Logger *slog.Logger
	// Watches reports whether a channel id is configured. Messages from
	// other channels are dropped before any attachment is fetched.
	Watches func(chatID string) bool
	// NeedsAttachments reports whether a message's attachments should be
	// downloaded. Nil downloads them for every message.
	NeedsAttachments   func(chatID, content string) bool
	MaxAttachmentBytes int64
	HTTPClient         *http.Client
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: attachmentTimeout}
	}
	if cfg.Watches == nil {
		cfg.Watches = func(string) bool { return true }
	}
	if cfg.NeedsAttachments == nil {
		cfg.NeedsAttachments = func(string, string) bool { return true }
	}
	return &Discord{
		token:              cfg.Token,
		watches:            cfg.Watches,
		needsAttachments:   cfg.NeedsAttachments,
		maxAttachmentBytes: cfg.MaxAttachmentBytes,
		http:               cfg.HTTPClient,
		logger:             cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	// Handlers run on the gateway goroutine so messages reach the bus in
	// the order Discord delivered them.
	session.SyncEvents = true
	d.session = session

	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) { d.deliver(ctx, msg) })

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		msg, ok := d.toInbound(ctx, m, selfID)
		if !ok {
			return
		}
		bus.Publish(msg)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// Send posts content to a Discord channel. Content over the platform limit
// is split on line boundaries.
func (d *Discord) Send(_ context.Context, chatID, content string) error {
	if d.session == nil {
		return errors.New("discord: not connected")
	}
	var errs []error
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(chatID, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Discord) deliver(ctx context.Context, msg domain.OutboundMessage) {
	if msg.Content == "" {
		return
	}
	if err := d.Send(ctx, msg.ChatID, msg.Content); err != nil {
		metrics.RepliesFailed.Inc()
		d.logger.Error("discord reply failed", "channel_id", msg.ChatID, "err", err)
	}
}

// toInbound converts a gateway event into an inbound message. Events from
// unwatched channels are dropped; the bot's own messages pass through
// flagged so the matcher can ignore them.
func (d *Discord) toInbound(ctx context.Context, m *discordgo.MessageCreate, selfID string) (domain.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return domain.InboundMessage{}, false
	}
	if !d.watches(m.ChannelID) {
		return domain.InboundMessage{}, false
	}

	self := selfID != "" && m.Author.ID == selfID
	msg := domain.InboundMessage{
		Channel:      d.Name(),
		ChatID:       m.ChannelID,
		SenderID:     m.Author.ID,
		SenderName:   m.Author.Username,
		Content:      m.Content,
		AuthorIsSelf: self,
		Timestamp:    m.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if !self && len(m.Attachments) > 0 && d.needsAttachments(m.ChannelID, m.Content) {
		for _, att := range m.Attachments {
			a, err := d.fetchAttachment(ctx, att)
			if err != nil {
				d.logger.Warn("attachment skipped",
					"channel_id", m.ChannelID,
					"filename", att.Filename,
					"err", err,
				)
				continue
			}
			msg.Attachments = append(msg.Attachments, a)
		}
	}

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(m.Content),
		"attachments", len(msg.Attachments),
	)
	return msg, true
}

func (d *Discord) fetchAttachment(ctx context.Context, att *discordgo.MessageAttachment) (domain.Attachment, error) {
	if att == nil {
		return domain.Attachment{}, errors.New("empty attachment")
	}
	if att.Size > 0 && int64(att.Size) > d.maxAttachmentBytes {
		return domain.Attachment{}, fmt.Errorf("attachment is %d bytes, limit %d", att.Size, d.maxAttachmentBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, attachmentTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Attachment{}, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxAttachmentBytes+1))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > d.maxAttachmentBytes {
		return domain.Attachment{}, fmt.Errorf("attachment exceeds %d bytes", d.maxAttachmentBytes)
	}

	return domain.Attachment{
		Filename:    att.Filename,
		ContentType: contentType(att, resp.Header.Get("Content-Type")),
		URL:         att.URL,
		Data:        data,
	}, nil
}

func contentType(att *discordgo.MessageAttachment, header string) string {
	if att.ContentType != "" {
		return att.ContentType
	}
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(att.Filename))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
