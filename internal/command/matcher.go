package command

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"senechal/internal/config"
	"senechal/internal/domain"
)

// Matcher resolves inbound messages to the command sets of a configuration.
type Matcher struct {
	cfg *config.Config
}

func NewMatcher(cfg *config.Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Resolve filters self-authored messages and unconfigured channels, then
// matches msg against its channel. It returns ErrNoMatch for anything that
// should be ignored silently.
func (m *Matcher) Resolve(msg domain.InboundMessage) (*config.Channel, *config.CommandSet, error) {
	if msg.AuthorIsSelf {
		return nil, nil, ErrNoMatch
	}
	ch, ok := m.cfg.ChannelByID(msg.ChatID)
	if !ok {
		return nil, nil, ErrNoMatch
	}
	set, err := Match(ch, msg)
	return ch, set, err
}

// Watches reports whether chatID is a configured channel.
func (m *Matcher) Watches(chatID string) bool {
	_, ok := m.cfg.ChannelByID(chatID)
	return ok
}

// WantsAttachments reports whether content in chatID would match a rowing
// command, the only kind that reads attachment bytes.
func (m *Matcher) WantsAttachments(chatID, content string) bool {
	ch, ok := m.cfg.ChannelByID(chatID)
	if !ok {
		return false
	}
	for _, set := range ch.CommandSets {
		if _, ok := cutPrefix(content, set.Spec.CmdPrefix); ok {
			return set.Spec.Kind == config.KindRowing
		}
	}
	return false
}

// Match returns the first command set of ch, in configuration order, whose
// prefix matches msg. A matched rowing command without attachments returns
// the set together with a *ValidationError wrapping ErrMissingAttachment.
func Match(ch *config.Channel, msg domain.InboundMessage) (*config.CommandSet, error) {
	if ch == nil || string(ch.ID) != msg.ChatID {
		return nil, ErrNoMatch
	}
	for i := range ch.CommandSets {
		set := &ch.CommandSets[i]
		if _, ok := cutPrefix(msg.Content, set.Spec.CmdPrefix); !ok {
			continue
		}
		if set.Spec.Kind == config.KindRowing && len(msg.Attachments) == 0 {
			return set, &ValidationError{CommandSet: set.Name, Prefix: set.Spec.CmdPrefix, Err: ErrMissingAttachment}
		}
		return set, nil
	}
	return nil, ErrNoMatch
}

// cutPrefix reports whether text is exactly prefix or prefix followed by a
// whitespace rune, and returns what follows that single separator.
func cutPrefix(text, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	r, size := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return rest[size:], true
}
