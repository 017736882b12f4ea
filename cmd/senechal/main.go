package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"senechal/internal/config"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
	quiet      bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "senechal",
		Short:         "Senechal: Discord commands to HTTP API calls",
		Long:          "Senechal watches configured Discord channels, turns prefixed messages into JSON POST requests and replies with the result.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-critical output")

	root.AddCommand(startCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(lastCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config and applies --quiet.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if quiet {
		cfg.Bot.Quiet = true
	}
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with one configured from cfg.
// The returned closer releases the log file, if any.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	level := parseLevel(cfg.Log.Level)
	if cfg.Bot.Quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
