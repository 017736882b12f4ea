package bus

import (
	"log/slog"
	"sync"
	"time"

	"senechal/internal/domain"
)

const (
	defaultBufferSize = 64
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is a Go-channel based message bus between chat channels and
// the dispatch engine. A single consumer drains Subscribe(), so inbound
// messages are handled strictly in arrival order.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues an inbound message. It blocks up to publishTimeout when
// the buffer is full, then drops the message with an error log.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus", "chat_id", msg.ChatID)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "chat_id", msg.ChatID, "pending", len(b.inbound))
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-timer.C:
		b.logger.Error("message dropped: inbound bus full",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"sender", msg.SenderID,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Pending reports how many inbound messages are waiting.
func (b *InMemoryBus) Pending() int {
	return len(b.inbound)
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler registered", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
