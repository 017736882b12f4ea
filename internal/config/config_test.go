package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
bot:
  token: abc
log:
  level: debug
channels:
  rowing:
    id: 1234567890123456789
    command_sets:
      erg:
        kind: rowing
        cmd_prefix: /row
        api_call:
          url: https://api.example.com/rowing
          args:
            notes: ""
          headers:
            X-API-Key: secret
  notes:
    id: "42"
    command_sets:
      todo:
        cmd_prefix: /todo
        api_call:
          url: http://localhost:8000/todo
          args:
            text: ""
            source: discord
          timeout_seconds: 3
      ask:
        cmd_prefix: /ask
        api_call:
          url: http://localhost:8000/ask
`

func validConfig() *Config {
	cfg := Defaults()
	cfg.Channels = Channels{{
		Name: "notes",
		ID:   "42",
		CommandSets: CommandSets{{
			Name: "todo",
			Spec: CommandSpec{
				Kind:      KindText,
				CmdPrefix: "/todo",
				APICall:   EndpointSpec{URL: "http://localhost:8000/todo"},
			},
		}},
	}}
	return cfg
}

// --- Parse ---

func TestParse_PreservesOrder(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(cfg.Channels))
	}
	if cfg.Channels[0].Name != "rowing" || cfg.Channels[1].Name != "notes" {
		t.Errorf("channel order not preserved: %s, %s", cfg.Channels[0].Name, cfg.Channels[1].Name)
	}
	sets := cfg.Channels[1].CommandSets
	if len(sets) != 2 || sets[0].Name != "todo" || sets[1].Name != "ask" {
		t.Errorf("command set order not preserved: %+v", sets)
	}
}

func TestParse_LargeSnowflakeKeptVerbatim(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Channels[0].ID.String(); got != "1234567890123456789" {
		t.Errorf("expected verbatim id, got %s", got)
	}
	if _, ok := cfg.ChannelByID("42"); !ok {
		t.Error("expected channel 42 to be found")
	}
	if _, ok := cfg.ChannelByID("7"); ok {
		t.Error("unknown id should not be found")
	}
}

func TestParse_TimeoutDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	erg := cfg.Channels[0].CommandSets[0].Spec
	if erg.APICall.TimeoutSeconds != RowingTimeoutSeconds {
		t.Errorf("rowing timeout = %d, want %d", erg.APICall.TimeoutSeconds, RowingTimeoutSeconds)
	}
	todo := cfg.Channels[1].CommandSets[0].Spec
	if todo.APICall.TimeoutSeconds != 3 {
		t.Errorf("explicit timeout = %d, want 3", todo.APICall.TimeoutSeconds)
	}
	ask := cfg.Channels[1].CommandSets[1].Spec
	if ask.Kind != KindText {
		t.Errorf("default kind = %q, want text", ask.Kind)
	}
	if ask.APICall.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("text timeout = %d, want %d", ask.APICall.TimeoutSeconds, DefaultTimeoutSeconds)
	}
}

func TestParse_ArgsAndHeaders(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	todo := cfg.Channels[1].CommandSets[0].Spec
	if todo.APICall.Args["text"] != "" || todo.APICall.Args["source"] != "discord" {
		t.Errorf("unexpected args: %v", todo.APICall.Args)
	}
	erg := cfg.Channels[0].CommandSets[0].Spec
	if erg.APICall.Headers["X-API-Key"] != "secret" {
		t.Errorf("unexpected headers: %v", erg.APICall.Headers)
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	doc := strings.Replace(sampleYAML, "cmd_prefix: /todo", "cmd_prefix: /todo\n        cmd_prefx: /oops", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "todo") {
		t.Errorf("error should name the command set: %v", err)
	}
}

func TestParse_UnknownTopLevelFieldRejected(t *testing.T) {
	_, err := Parse([]byte(sampleYAML + "\nextra: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParse_MissingPrefix(t *testing.T) {
	doc := strings.Replace(sampleYAML, "        cmd_prefix: /ask\n", "", 1)
	_, err := Parse([]byte(doc))
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(err.Error(), "channels.notes.command_sets.ask: cmd_prefix is required") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestParse_MissingURL(t *testing.T) {
	doc := strings.Replace(sampleYAML, "url: http://localhost:8000/ask", "headers: {}", 1)
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "channels.notes.command_sets.ask: api_call.url is required") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	if _, err := Parse([]byte("")); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("SENECHAL_TEST_URL", "https://expanded.example.com/hook")
	doc := strings.Replace(sampleYAML, "http://localhost:8000/ask", "${SENECHAL_TEST_URL}", 1)
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Channels[1].CommandSets[1].Spec.APICall.URL; got != "https://expanded.example.com/hook" {
		t.Errorf("url = %s", got)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SENECHAL_BOT_TOKEN", "from-env")
	t.Setenv("SENECHAL_SNAPSHOT_PATH", "/tmp/snap.db")
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Bot.Token != "from-env" {
		t.Errorf("token = %s, want from-env", cfg.Bot.Token)
	}
	if cfg.Snapshot.Path != "/tmp/snap.db" {
		t.Errorf("snapshot path = %s", cfg.Snapshot.Path)
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_NoChannels(t *testing.T) {
	if err := Validate(Defaults()); err == nil {
		t.Fatal("expected error for config without channels")
	}
}

func TestValidate_DuplicateChannelID(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Channels[0]
	dup.Name = "other"
	cfg.Channels = append(cfg.Channels, dup)
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "already used by channel notes") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestParse_DuplicateCommandSetName(t *testing.T) {
	doc := strings.Replace(sampleYAML, "      ask:\n", "      todo:\n", 1)
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "channels.notes.command_sets.todo: command set name is declared more than once") {
		t.Fatalf("expected duplicate command set error, got %v", err)
	}
}

func TestParse_DuplicateChannelName(t *testing.T) {
	doc := strings.Replace(sampleYAML, "  notes:\n    id: \"42\"", "  rowing:\n    id: \"42\"", 1)
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "channels.rowing: channel name is declared more than once") {
		t.Fatalf("expected duplicate channel error, got %v", err)
	}
}

func TestValidate_InvalidKind(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].CommandSets[0].Spec.Kind = "voice"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestValidate_RelativeURL(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].CommandSets[0].Spec.APICall.URL = "/todo"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative url")
	}
}

func TestValidate_PrefixWithWhitespace(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].CommandSets[0].Spec.CmdPrefix = "/to do"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for prefix containing whitespace")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.Channels[0].CommandSets[0].Spec.CmdPrefix = ""
	cfg.Channels[0].CommandSets[0].Spec.APICall.URL = ""
	err := Validate(cfg)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(cfgErr.Problems) != 3 {
		t.Errorf("expected 3 problems, got %d: %v", len(cfgErr.Problems), cfgErr.Problems)
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].CommandSets[0].Spec.APICall.TimeoutSeconds = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}

// --- PrefixOverlaps ---

func TestPrefixOverlaps(t *testing.T) {
	cfg := validConfig()
	sets := &cfg.Channels[0].CommandSets
	*sets = append(*sets,
		CommandSet{Name: "todo-list", Spec: CommandSpec{CmdPrefix: "/todolist"}},
		CommandSet{Name: "todo-again", Spec: CommandSpec{CmdPrefix: "/todo"}},
		CommandSet{Name: "ask", Spec: CommandSpec{CmdPrefix: "/ask"}},
	)

	warnings := PrefixOverlaps(cfg)
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[1], "todo-again is unreachable") {
		t.Errorf("expected unreachable warning, got %q", warnings[1])
	}
	// /todo and /todolist never shadow each other.
	if !strings.Contains(warnings[0], "both stay reachable") || strings.Contains(warnings[0], "wins") {
		t.Errorf("expected informational warning for a strict prefix, got %q", warnings[0])
	}
}

func TestPrefixOverlaps_None(t *testing.T) {
	if w := PrefixOverlaps(validConfig()); len(w) != 0 {
		t.Errorf("expected no warnings, got %v", w)
	}
}

// --- Load ---

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Channels) != 2 || loaded.Channels[1].CommandSets[1].Name != "ask" {
		t.Errorf("unexpected structure: %+v", loaded.Channels)
	}
	if loaded.Channels[0].ID != "1234567890123456789" {
		t.Errorf("id changed: %s", loaded.Channels[0].ID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist in chain, got %v", err)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SENECHAL_SET", "value")
	cases := map[string]string{
		"${SENECHAL_SET}":                 "value",
		"${SENECHAL_UNSET_VAR:-fallback}": "fallback",
		"${SENECHAL_UNSET_VAR}":           "${SENECHAL_UNSET_VAR}",
		"plain":                           "plain",
	}
	for in, want := range cases {
		if got := ExpandEnvVars(in); got != want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", in, got, want)
		}
	}
}
