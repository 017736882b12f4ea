package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Kind selects how a command forwards a message.
type Kind string

const (
	// KindText forwards the message text only.
	KindText Kind = "text"
	// KindRowing additionally forwards the first image attachment and an optional date.
	KindRowing Kind = "rowing"
)

const (
	DefaultTimeoutSeconds = 10
	RowingTimeoutSeconds  = 120
)

// Config is the root configuration for Senechal.
type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Log      LogConfig      `yaml:"log"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Channels Channels       `yaml:"channels"`
}

type BotConfig struct {
	Token string `yaml:"token" env:"SENECHAL_BOT_TOKEN"`
	Quiet bool   `yaml:"quiet"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"SENECHAL_LOG_LEVEL"`
	File  string `yaml:"file,omitempty"` // optional, written in addition to stderr
}

// SnapshotConfig locates the SQLite file holding the last endpoint response.
type SnapshotConfig struct {
	Path string `yaml:"path" env:"SENECHAL_SNAPSHOT_PATH"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Channels is the ordered list of watched channels. In YAML it is a mapping
// from channel name to channel; document order is preserved.
type Channels []Channel

// Channel binds a platform channel to its command sets.
type Channel struct {
	Name        string      `yaml:"-"`
	ID          Snowflake   `yaml:"id"`
	CommandSets CommandSets `yaml:"command_sets"`
}

// CommandSets is the ordered list of command sets of a channel. Matching
// walks it in this order.
type CommandSets []CommandSet

// CommandSet is a named command specification scoped to one channel.
type CommandSet struct {
	Name string
	Spec CommandSpec
}

type CommandSpec struct {
	Kind      Kind         `yaml:"kind"`
	CmdPrefix string       `yaml:"cmd_prefix"`
	APICall   EndpointSpec `yaml:"api_call"`
}

// EndpointSpec describes the HTTP endpoint a command forwards to.
// An Args value of "" is a placeholder for the message content.
type EndpointSpec struct {
	URL            string            `yaml:"url"`
	Args           map[string]any    `yaml:"args,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
}

// Snowflake is a platform identifier. It accepts both quoted and bare
// numeric YAML scalars and keeps the literal digits, so large Discord IDs
// never pass through a float.
type Snowflake string

func (s *Snowflake) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	*s = Snowflake(strings.TrimSpace(node.Value))
	return nil
}

func (s Snowflake) String() string { return string(s) }

func (c *Channels) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: channels must be a mapping of name to channel", node.Line)
	}
	out := make(Channels, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var ch Channel
		if err := strictDecode(node.Content[i+1], &ch); err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		ch.Name = name
		out = append(out, ch)
	}
	*c = out
	return nil
}

func (c *CommandSets) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: command_sets must be a mapping of name to command", node.Line)
	}
	out := make(CommandSets, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var spec CommandSpec
		if err := strictDecode(node.Content[i+1], &spec); err != nil {
			return fmt.Errorf("command set %q: %w", name, err)
		}
		out = append(out, CommandSet{Name: name, Spec: spec})
	}
	*c = out
	return nil
}

// strictDecode decodes a sub-document rejecting unknown keys. yaml.Node.Decode
// does not inherit the decoder's KnownFields setting, so the node is
// re-encoded and run through a strict decoder.
func strictDecode(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ChannelByID returns the channel with the given platform id.
func (c *Config) ChannelByID(id string) (*Channel, bool) {
	for i := range c.Channels {
		if string(c.Channels[i].ID) == id {
			return &c.Channels[i], true
		}
	}
	return nil, false
}

// Timeout returns the effective timeout in seconds for this spec.
func (s CommandSpec) Timeout() int {
	if s.APICall.TimeoutSeconds > 0 {
		return s.APICall.TimeoutSeconds
	}
	if s.Kind == KindRowing {
		return RowingTimeoutSeconds
	}
	return DefaultTimeoutSeconds
}

// Load reads, expands and validates the configuration at path.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Defaults, applies environment
// overrides and per-kind defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Problems: []string{"document is empty"}}
		}
		return nil, &Error{Problems: []string{err.Error()}}
	}

	for _, target := range []any{&cfg.Bot, &cfg.Log, &cfg.Snapshot} {
		if err := env.Parse(target); err != nil {
			return nil, fmt.Errorf("environment overrides: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.Snapshot.Path = ExpandPath(cfg.Snapshot.Path)

	for i := range cfg.Channels {
		for j := range cfg.Channels[i].CommandSets {
			spec := &cfg.Channels[i].CommandSets[j].Spec
			if spec.Kind == "" {
				spec.Kind = KindText
			}
			if spec.APICall.TimeoutSeconds == 0 {
				spec.APICall.TimeoutSeconds = spec.Timeout()
			}
		}
	}
}

// Error is a configuration error. It lists every problem found so an
// operator can fix the file in one pass.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return "config error: " + e.Problems[0]
	}
	return fmt.Sprintf("config validation errors:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}
	if len(cfg.Channels) == 0 {
		errs = append(errs, "channels: at least one channel is required")
	}

	seenIDs := make(map[Snowflake]string)
	seenChannels := make(map[string]bool)
	for _, ch := range cfg.Channels {
		where := "channels." + ch.Name
		if seenChannels[ch.Name] {
			errs = append(errs, where+": channel name is declared more than once")
		}
		seenChannels[ch.Name] = true
		if ch.ID == "" {
			errs = append(errs, where+": id is required")
		} else if other, dup := seenIDs[ch.ID]; dup {
			errs = append(errs, fmt.Sprintf("%s: id %s is already used by channel %s", where, ch.ID, other))
		} else {
			seenIDs[ch.ID] = ch.Name
		}
		if len(ch.CommandSets) == 0 {
			errs = append(errs, where+": command_sets must not be empty")
		}
		seenSets := make(map[string]bool)
		for _, set := range ch.CommandSets {
			if seenSets[set.Name] {
				errs = append(errs, where+".command_sets."+set.Name+": command set name is declared more than once")
			}
			seenSets[set.Name] = true
			errs = append(errs, validateSpec(where+".command_sets."+set.Name, set.Spec)...)
		}
	}

	if len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

func validateSpec(where string, spec CommandSpec) []string {
	var errs []string

	switch spec.Kind {
	case "", KindText, KindRowing:
		// valid
	default:
		errs = append(errs, fmt.Sprintf("%s: kind must be one of: text, rowing (got %q)", where, spec.Kind))
	}
	if strings.TrimSpace(spec.CmdPrefix) == "" {
		errs = append(errs, where+": cmd_prefix is required")
	} else if strings.IndexFunc(spec.CmdPrefix, unicode.IsSpace) >= 0 {
		errs = append(errs, where+": cmd_prefix must not contain whitespace")
	}
	if spec.APICall.URL == "" {
		errs = append(errs, where+": api_call.url is required")
	} else if u, err := url.Parse(spec.APICall.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("%s: api_call.url must be an absolute http(s) URL (got %q)", where, spec.APICall.URL))
	}
	if spec.APICall.TimeoutSeconds < 0 {
		errs = append(errs, where+": api_call.timeout_seconds must be >= 0")
	}
	return errs
}

// PrefixOverlaps lists command sets whose prefixes overlap within a channel.
// Identical prefixes leave the later set unreachable, since matching keeps the
// first in declaration order. A prefix that merely starts another, like /row
// and /rowing, is reported for information only: the separator rule keeps
// both reachable.
func PrefixOverlaps(cfg *Config) []string {
	var warnings []string
	for _, ch := range cfg.Channels {
		for i, first := range ch.CommandSets {
			for _, later := range ch.CommandSets[i+1:] {
				a, b := first.Spec.CmdPrefix, later.Spec.CmdPrefix
				switch {
				case a == b:
					warnings = append(warnings, fmt.Sprintf(
						"channels.%s: command sets %s and %s share prefix %q; %s is unreachable",
						ch.Name, first.Name, later.Name, a, later.Name))
				case strings.HasPrefix(b, a) || strings.HasPrefix(a, b):
					warnings = append(warnings, fmt.Sprintf(
						"channels.%s: prefix %q (%s) starts %q (%s); both stay reachable because a separator must follow the prefix",
						ch.Name, a, first.Name, b, later.Name))
				}
			}
		}
	}
	return warnings
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
