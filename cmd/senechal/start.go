package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"senechal/internal/bus"
	"senechal/internal/channel"
	"senechal/internal/command"
	"senechal/internal/config"
	"senechal/internal/dispatch"
	"senechal/internal/domain"
	"senechal/internal/engine"
	"senechal/internal/metrics"
	"senechal/internal/reply"
	"senechal/internal/snapshot"

	"github.com/spf13/cobra"
)

const (
	minShutdownGrace = 10 * time.Second
	shutdownMargin   = 5 * time.Second
)

// shutdownGrace is how long a stop waits for the in-flight command: the
// longest configured endpoint timeout plus time to post the reply.
func shutdownGrace(cfg *config.Config) time.Duration {
	longest := 0
	for _, ch := range cfg.Channels {
		for _, set := range ch.CommandSets {
			longest = max(longest, set.Spec.Timeout())
		}
	}
	return max(minShutdownGrace, time.Duration(longest)*time.Second+shutdownMargin)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Discord bot",
		Long:  "Connects to Discord and dispatches commands from the configured channels. Press Ctrl+C to stop.",
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Bot.Token == "" {
		return errors.New("bot.token is required (or set SENECHAL_BOT_TOKEN)")
	}

	logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	for _, w := range config.PrefixOverlaps(cfg) {
		logger.Warn("command prefix overlap", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.NewSQLiteStore(cfg.Snapshot.Path, logger)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer store.Close()

	messageBus := bus.New(0, logger)
	matcher := command.NewMatcher(cfg)

	eng := engine.New(engine.Config{
		Matcher: matcher,
		Sender: dispatch.New(dispatch.Config{
			Logger:    logger,
			UserAgent: "senechal/" + version,
		}),
		Formatter: reply.New(reply.Config{Store: store, Logger: logger}),
		Bus:       messageBus,
		Logger:    logger,
	})

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()
		logger.Info("metrics enabled", "addr", cfg.Metrics.Addr)
	}

	// The gateway outlives the signal so the reply to an in-flight command
	// can still be posted.
	discordCtx, discordCancel := context.WithCancel(context.Background())
	defer discordCancel()

	var discord domain.Channel = channel.NewDiscord(channel.DiscordConfig{
		Token:            cfg.Bot.Token,
		Logger:           logger,
		Watches:          matcher.Watches,
		NeedsAttachments: matcher.WantsAttachments,
	})
	discordErr := make(chan error, 1)
	go func() {
		discordErr <- discord.Start(discordCtx, messageBus)
	}()

	logger.Info("senechal started. Press Ctrl+C to stop.",
		"channels", len(cfg.Channels),
		"snapshot", cfg.Snapshot.Path,
	)

	var runErr error
	discordStopped := false
	select {
	case <-ctx.Done():
	case err := <-discordErr:
		discordStopped = true
		if err != nil {
			runErr = err
			logger.Error("discord channel error", "err", err)
		}
		stop()
	}
	grace := shutdownGrace(cfg)
	logger.Info("shutting down...", "grace", grace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		// The engine finishes the command it holds and posts its reply
		// before the gateway closes.
		<-engineDone
		discordCancel()
		if !discordStopped {
			<-discordErr
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = errors.New("shutdown timed out")
		}
	}
	return runErr
}
