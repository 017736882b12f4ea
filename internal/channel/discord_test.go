package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"senechal/internal/domain"
	"senechal/internal/metrics"

	"github.com/bwmarrin/discordgo"
)

func testDiscordLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDiscord(maxBytes int64) *Discord {
	return NewDiscord(DiscordConfig{
		Token:              "test",
		Logger:             testDiscordLogger(),
		Watches:            func(id string) bool { return id == "100" },
		MaxAttachmentBytes: maxBytes,
	})
}

func event(channelID, authorID, content string, atts ...*discordgo.MessageAttachment) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID:   channelID,
		Content:     content,
		Author:      &discordgo.User{ID: authorID, Username: "alice"},
		Attachments: atts,
	}}
}

func TestToInbound_WatchedChannel(t *testing.T) {
	d := newTestDiscord(0)
	msg, ok := d.toInbound(context.Background(), event("100", "u1", "/todo hi"), "bot")
	if !ok {
		t.Fatal("expected message from watched channel")
	}
	if msg.Channel != "discord" || msg.ChatID != "100" || msg.Content != "/todo hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.AuthorIsSelf {
		t.Error("message from another user flagged as self")
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestToInbound_UnwatchedChannelDropped(t *testing.T) {
	d := newTestDiscord(0)
	if _, ok := d.toInbound(context.Background(), event("999", "u1", "/todo hi"), "bot"); ok {
		t.Error("expected message from unwatched channel to be dropped")
	}
}

func TestToInbound_SelfFlagged(t *testing.T) {
	d := newTestDiscord(0)
	msg, ok := d.toInbound(context.Background(), event("100", "bot", "**ok:** done"), "bot")
	if !ok {
		t.Fatal("expected self message to pass through")
	}
	if !msg.AuthorIsSelf {
		t.Error("expected AuthorIsSelf")
	}
}

func TestToInbound_DownloadsAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/erg.png":
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "PNGDATA")
		case "/big.png":
			io.WriteString(w, strings.Repeat("x", 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := newTestDiscord(32)
	msg, ok := d.toInbound(context.Background(), event("100", "u1", "/row",
		&discordgo.MessageAttachment{Filename: "erg.png", URL: srv.URL + "/erg.png"},
		&discordgo.MessageAttachment{Filename: "big.png", URL: srv.URL + "/big.png"},
		&discordgo.MessageAttachment{Filename: "gone.png", URL: srv.URL + "/gone.png"},
		&discordgo.MessageAttachment{Filename: "huge.png", URL: srv.URL + "/erg.png", Size: 1 << 20},
	), "bot")
	if !ok {
		t.Fatal("expected message")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if string(att.Data) != "PNGDATA" {
		t.Errorf("unexpected data %q", att.Data)
	}
	if att.ContentType != "image/png" || att.Filename != "erg.png" {
		t.Errorf("unexpected attachment metadata: %+v", att)
	}
}

func TestToInbound_SkipsDownloadWhenNotNeeded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "PNGDATA")
	}))
	defer srv.Close()

	rowingOnly := func(_, content string) bool { return strings.HasPrefix(content, "/row") }
	d := NewDiscord(DiscordConfig{
		Token:            "test",
		Logger:           testDiscordLogger(),
		Watches:          func(id string) bool { return id == "100" },
		NeedsAttachments: rowingOnly,
	})
	photo := &discordgo.MessageAttachment{Filename: "cat.png", URL: srv.URL + "/cat.png"}

	msg, ok := d.toInbound(context.Background(), event("100", "u1", "look at my cat", photo), "bot")
	if !ok {
		t.Fatal("expected message")
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(msg.Attachments))
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("expected no download for a non-command message, got %d", n)
	}

	msg, _ = d.toInbound(context.Background(), event("100", "u1", "/row", photo), "bot")
	if len(msg.Attachments) != 1 || hits.Load() != 1 {
		t.Errorf("expected one download for a rowing command, got %d attachments and %d hits", len(msg.Attachments), hits.Load())
	}
}

func TestContentType_Fallbacks(t *testing.T) {
	if got := contentType(&discordgo.MessageAttachment{ContentType: "image/jpeg"}, "text/plain"); got != "image/jpeg" {
		t.Errorf("declared type should win, got %s", got)
	}
	if got := contentType(&discordgo.MessageAttachment{}, "image/webp; charset=binary"); got != "image/webp" {
		t.Errorf("header type expected, got %s", got)
	}
	if got := contentType(&discordgo.MessageAttachment{Filename: "a.PNG"}, ""); got != "image/png" {
		t.Errorf("extension type expected, got %s", got)
	}
	if got := contentType(&discordgo.MessageAttachment{Filename: "blob"}, ""); got != "application/octet-stream" {
		t.Errorf("fallback expected, got %s", got)
	}
}

func TestSend_NotConnected(t *testing.T) {
	if err := newTestDiscord(0).Send(context.Background(), "100", "hi"); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestDeliver_CountsFailedReplies(t *testing.T) {
	d := newTestDiscord(0)
	before := metrics.RepliesFailed.Value()

	d.deliver(context.Background(), domain.OutboundMessage{ChatID: "100"})
	if got := metrics.RepliesFailed.Value(); got != before {
		t.Errorf("empty reply should not be sent or counted, got %d", got-before)
	}

	d.deliver(context.Background(), domain.OutboundMessage{ChatID: "100", Content: "**ok:** done"})
	if got := metrics.RepliesFailed.Value(); got != before+1 {
		t.Errorf("expected one failed reply, got %d", got-before)
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble the message")
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	msg := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	chunks := splitMessage(msg, 50)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 40)+"\n" {
		t.Errorf("expected split after newline, got %q", chunks)
	}
}

func TestSplitMessage_MultiByte(t *testing.T) {
	msg := strings.Repeat("é", 120)
	for i, c := range splitMessage(msg, 50) {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestSplitMessage_Empty(t *testing.T) {
	chunks := splitMessage("", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}
}
