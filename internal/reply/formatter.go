// Package reply renders dispatch results as chat replies and records each
// result as the last-response snapshot before any truncation happens.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"senechal/internal/dispatch"
	"senechal/internal/domain"
)

const (
	// DiscordMaxRunes is Discord's per-message character limit.
	DiscordMaxRunes = 2000

	TruncationMarker = "… (truncated, full response saved as snapshot)"

	codeFence = "```"
)

// Formatter turns dispatch results into outbound messages.
type Formatter struct {
	store    domain.SnapshotStore
	logger   *slog.Logger
	maxRunes int
}

// Config holds the dependencies of a Formatter. Store may be nil, in which
// case no snapshot is kept.
type Config struct {
	Store    domain.SnapshotStore
	Logger   *slog.Logger
	MaxRunes int
}

func New(cfg Config) *Formatter {
	if cfg.MaxRunes <= 0 {
		cfg.MaxRunes = DiscordMaxRunes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Formatter{store: cfg.Store, logger: cfg.Logger, maxRunes: cfg.MaxRunes}
}

// Format persists res as the snapshot and renders the reply for its chat.
func (f *Formatter) Format(ctx context.Context, res dispatch.Result) domain.OutboundMessage {
	f.persist(ctx, res)

	var content string
	if res.OK() {
		content = renderOK(res)
	} else {
		content = renderError(res)
	}

	return domain.OutboundMessage{
		ChatID:  res.ChatID,
		Content: Truncate(content, f.maxRunes),
		Failed:  !res.OK(),
	}
}

func (f *Formatter) persist(ctx context.Context, res dispatch.Result) {
	if f.store == nil {
		return
	}
	snap := domain.Snapshot{
		DispatchID: res.ID,
		ChatID:     res.ChatID,
		CommandSet: res.CommandSet,
		URL:        res.URL,
		Status:     string(res.Status),
		Message:    res.Message,
		ErrorKind:  string(res.Kind),
		HTTPStatus: res.HTTPStatus,
		LatencyMs:  res.LatencyMs,
		Raw:        res.Raw,
		CreatedAt:  time.Now(),
	}
	if res.Data != nil {
		data, err := json.Marshal(res.Data)
		if err != nil {
			f.logger.Warn("snapshot data not encodable", "id", res.ID, "err", err)
		} else {
			snap.Data = data
		}
	}
	if err := f.store.Save(ctx, snap); err != nil {
		f.logger.Error("snapshot save failed", "id", res.ID, "err", err)
	}
}

func renderOK(res dispatch.Result) string {
	var sb strings.Builder
	if res.Message != "" {
		sb.WriteString("**ok:** " + res.Message)
	} else {
		sb.WriteString("**ok**")
	}
	if body := renderData(res.Data); body != "" {
		sb.WriteString("\n" + body)
	}
	return sb.String()
}

func renderError(res dispatch.Result) string {
	var sb strings.Builder
	sb.WriteString("❌ **error:** ")
	if res.Message != "" {
		sb.WriteString(res.Message)
	} else {
		sb.WriteString("command failed")
	}
	if res.Kind == dispatch.KindMalformed && strings.TrimSpace(res.Raw) != "" {
		sb.WriteString("\n" + codeFence + "\n")
		sb.WriteString(strings.ReplaceAll(strings.TrimSpace(res.Raw), codeFence, "'''"))
		sb.WriteString("\n" + codeFence)
	}
	return sb.String()
}

// renderData shows flat objects as a bullet list and anything nested as an
// indented JSON block.
func renderData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if len(v) == 0 {
			return ""
		}
		if isFlat(v) {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			lines := make([]string, 0, len(keys))
			for _, k := range keys {
				lines = append(lines, fmt.Sprintf("- **%s:** %s", k, scalar(v[k])))
			}
			return strings.Join(lines, "\n")
		}
	}

	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return codeFence + "json\n" + string(pretty) + "\n" + codeFence
}

func isFlat(m map[string]any) bool {
	for _, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Truncate caps content at maxRunes. Overflow is cut on a line boundary,
// an open code block is closed and TruncationMarker is appended, so the
// reply never ends mid-structure without saying so.
func Truncate(content string, maxRunes int) string {
	if utf8.RuneCountInString(content) <= maxRunes {
		return content
	}

	// Room for the closing fence and the marker on their own lines.
	budget := maxRunes - utf8.RuneCountInString(TruncationMarker) - utf8.RuneCountInString(codeFence) - 2
	if budget < 0 {
		budget = 0
	}

	var kept []string
	used := 0
	inCode := false
	for _, line := range strings.Split(content, "\n") {
		n := utf8.RuneCountInString(line) + 1
		if used+n > budget {
			// Keep the part of the overflowing line that still fits.
			if room := budget - used - 1; room > 0 && !strings.HasPrefix(strings.TrimSpace(line), codeFence) {
				kept = append(kept, string([]rune(line)[:room]))
			}
			break
		}
		kept = append(kept, line)
		used += n
		if strings.HasPrefix(strings.TrimSpace(line), codeFence) {
			inCode = !inCode
		}
	}

	if inCode {
		kept = append(kept, codeFence)
	}
	kept = append(kept, TruncationMarker)
	return strings.Join(kept, "\n")
}
