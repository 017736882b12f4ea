package command

import (
	"encoding/base64"
	"maps"
	"net/http"
	"regexp"
	"strings"
	"time"

	"senechal/internal/config"
	"senechal/internal/domain"
)

// Argument names added for rowing commands. A non-empty literal of the same
// name in the configured args takes precedence.
const (
	ArgImage            = "image"
	ArgImageContentType = "image_content_type"
	ArgImageFilename    = "image_filename"
	ArgImageURL         = "image_url"
	ArgDate             = "date"
)

var datePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

// OutboundRequest is a fully resolved HTTP call for one matched command.
type OutboundRequest struct {
	URL        string
	Method     string
	Args       map[string]any
	Headers    map[string]string
	Timeout    time.Duration
	ChatID     string
	CommandSet string
	Kind       config.Kind
}

// Build turns a matched command and its message into an OutboundRequest.
// The text after the prefix and one separator becomes the content that
// fills every placeholder ("") argument.
func Build(set *config.CommandSet, msg domain.InboundMessage) (*OutboundRequest, error) {
	spec := set.Spec
	content := StripPrefix(msg.Content, spec.CmdPrefix)

	req := &OutboundRequest{
		URL:        spec.APICall.URL,
		Method:     http.MethodPost,
		Headers:    maps.Clone(spec.APICall.Headers),
		Timeout:    time.Duration(spec.Timeout()) * time.Second,
		ChatID:     msg.ChatID,
		CommandSet: set.Name,
		Kind:       spec.Kind,
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}

	if spec.Kind != config.KindRowing {
		req.Args = substitute(spec.APICall.Args, content)
		return req, nil
	}

	if len(msg.Attachments) == 0 {
		return nil, &ValidationError{CommandSet: set.Name, Prefix: spec.CmdPrefix, Err: ErrMissingAttachment}
	}

	date, payload := ExtractDate(content)
	args := substitute(spec.APICall.Args, payload)

	att := msg.Attachments[0]
	setReserved(args, spec.APICall.Args, ArgImage, base64.StdEncoding.EncodeToString(att.Data))
	setReserved(args, spec.APICall.Args, ArgImageContentType, att.ContentType)
	setReserved(args, spec.APICall.Args, ArgImageFilename, att.Filename)
	if att.URL != "" {
		setReserved(args, spec.APICall.Args, ArgImageURL, att.URL)
	}

	if date != "" {
		setReserved(args, spec.APICall.Args, ArgDate, date)
	} else if isPlaceholder(spec.APICall.Args, ArgDate) {
		delete(args, ArgDate)
	}

	req.Args = args
	return req, nil
}

// StripPrefix removes prefix and exactly one following separator rune.
// Text that does not start with prefix is returned unchanged.
func StripPrefix(text, prefix string) string {
	if rest, ok := cutPrefix(text, prefix); ok {
		return rest
	}
	return text
}

// ExtractDate finds the first YYYY-MM-DD token in content. It returns the
// date and content with the token removed; without a token it returns ""
// and content unchanged.
func ExtractDate(content string) (date, rest string) {
	loc := datePattern.FindStringIndex(content)
	if loc == nil {
		return "", content
	}
	date = content[loc[0]:loc[1]]
	before := strings.TrimRight(content[:loc[0]], " \t")
	after := strings.TrimLeft(content[loc[1]:], " \t")
	switch {
	case before == "":
		rest = after
	case after == "":
		rest = before
	default:
		rest = before + " " + after
	}
	return date, rest
}

func substitute(template map[string]any, content string) map[string]any {
	args := make(map[string]any, len(template)+5)
	for k, v := range template {
		if s, ok := v.(string); ok && s == "" {
			args[k] = content
			continue
		}
		args[k] = v
	}
	return args
}

func isPlaceholder(template map[string]any, key string) bool {
	v, ok := template[key]
	if !ok {
		return false
	}
	s, isString := v.(string)
	return isString && s == ""
}

func setReserved(args, template map[string]any, key string, value any) {
	if _, ok := template[key]; ok && !isPlaceholder(template, key) {
		return
	}
	args[key] = value
}
