// Package engine drives the message → command → HTTP → reply pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"senechal/internal/command"
	"senechal/internal/dispatch"
	"senechal/internal/domain"
	"senechal/internal/metrics"
	"senechal/internal/reply"
)

// Sender performs one outbound command request. *dispatch.Dispatcher
// satisfies it.
type Sender interface {
	Send(ctx context.Context, req *command.OutboundRequest) dispatch.Result
}

// Engine consumes inbound messages one at a time and replies to every
// matched command exactly once.
type Engine struct {
	matcher   *command.Matcher
	sender    Sender
	formatter *reply.Formatter
	bus       domain.MessageBus
	logger    *slog.Logger
}

// Config holds all dependencies of the engine.
type Config struct {
	Matcher   *command.Matcher
	Sender    Sender
	Formatter *reply.Formatter
	Bus       domain.MessageBus
	Logger    *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Formatter == nil {
		cfg.Formatter = reply.New(reply.Config{Logger: cfg.Logger})
	}
	return &Engine{
		matcher:   cfg.Matcher,
		sender:    cfg.Sender,
		formatter: cfg.Formatter,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
	}
}

// Run drains the bus until ctx is done or the inbound channel closes. Each
// message is fully handled before the next is read.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started")
	inbound := e.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				e.logger.Info("inbound channel closed, engine stopping")
				return
			}
			metrics.InboundPending.Set(int64(e.bus.Pending()))
			e.processMessage(ctx, msg)
		}
	}
}

func (e *Engine) processMessage(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("message handling panicked", "chat_id", msg.ChatID, "panic", r)
		}
	}()

	// A shutdown must not cut a dispatch short: the request runs to its own
	// timeout, the snapshot is written and the reply is still sent.
	out, ok := e.Handle(context.WithoutCancel(ctx), msg)
	if !ok {
		return
	}
	e.bus.SendOutbound(out)
}

// Handle processes msg synchronously. It returns the reply to post and
// false when the message is not a command and gets no reply.
func (e *Engine) Handle(ctx context.Context, msg domain.InboundMessage) (domain.OutboundMessage, bool) {
	metrics.MessagesTotal.Inc()

	_, set, err := e.matcher.Resolve(msg)
	switch {
	case errors.Is(err, command.ErrNoMatch):
		e.logger.Debug("message ignored", "chat_id", msg.ChatID, "sender", msg.SenderName)
		return domain.OutboundMessage{}, false
	case errors.Is(err, command.ErrMissingAttachment):
		metrics.CommandsMatched.Inc()
		metrics.MissingImage.Inc()
		e.logger.Info("command rejected", "command", set.Name, "chat_id", msg.ChatID, "reason", err)
		return e.usageHint(msg, set.Spec.CmdPrefix), true
	case err != nil:
		e.logger.Error("command resolution failed", "chat_id", msg.ChatID, "error", err)
		return domain.OutboundMessage{}, false
	}
	metrics.CommandsMatched.Inc()

	e.logger.Info("command matched",
		"command", set.Name,
		"kind", set.Spec.Kind,
		"chat_id", msg.ChatID,
		"sender", msg.SenderName,
		"attachments", len(msg.Attachments),
	)

	req, err := command.Build(set, msg)
	if err != nil {
		if errors.Is(err, command.ErrMissingAttachment) {
			metrics.MissingImage.Inc()
			return e.usageHint(msg, set.Spec.CmdPrefix), true
		}
		e.logger.Error("request build failed", "command", set.Name, "error", err)
		return e.reply(msg, "❌ **error:** "+err.Error(), true), true
	}

	res := e.sender.Send(ctx, req)
	metrics.DispatchTotal(string(res.Status)).Inc()
	if !res.OK() {
		metrics.DispatchErrors(string(res.Kind)).Inc()
	}
	metrics.DispatchLatency.Observe(float64(res.LatencyMs) / 1000)

	out := e.formatter.Format(ctx, res)
	out.Channel = msg.Channel
	out.ChatID = msg.ChatID
	return out, true
}

func (e *Engine) usageHint(msg domain.InboundMessage, prefix string) domain.OutboundMessage {
	return e.reply(msg, fmt.Sprintf("📎 `%s` needs an image attachment. Attach the screenshot and send the command again.", prefix), true)
}

func (e *Engine) reply(msg domain.InboundMessage, content string, failed bool) domain.OutboundMessage {
	return domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Failed:  failed,
	}
}
