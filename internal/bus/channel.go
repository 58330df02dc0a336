package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/metrics"
)

// ChannelBus implements EventBus with Go channels inside one process.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	key     string
	topic   string
	bus     *ChannelBus
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of scope and topic, and to
// subscribers of topic on domain.AnyScope.
// Subscribers whose buffer is full miss the message.
func (b *ChannelBus) Publish(ctx context.Context, scope string, topic string, payload []byte) error {
	if err := checkPublishScope(scope); err != nil {
		return err
	}

	return b.publishMessage(newMessage(scope, topic, payload))
}

// Subscribe registers a handler for scope and topic.
// Scope may be domain.AnyScope to follow a topic across every city.
func (b *ChannelBus) Subscribe(ctx context.Context, scope string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		key:     makeKey(scope, topic),
		topic:   topic,
		bus:     b,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	go sub.run()

	b.subscriptions[sub.key] = append(b.subscriptions[sub.key], sub)
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.msgCh:
			if !ok {
				return
			}
			s.deliver(msg)
		}
	}
}

func (s *channelSubscription) deliver(msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("bus").Inc()
			slog.Error("panic in bus handler",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"panic", r,
			)
		}
	}()

	if err := s.handler(s.ctx, msg); err != nil {
		slog.Error("handler error",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Request publishes payload and waits for the first reply on a private topic.
// Responders reply by publishing to msg.Metadata["reply_to"].
func (b *ChannelBus) Request(ctx context.Context, scope string, topic string, payload []byte) ([]byte, error) {
	if err := checkPublishScope(scope); err != nil {
		return nil, err
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, scope, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(scope, topic, payload)
	msg.Metadata["reply_to"] = replyTopic
	if err := b.publishMessage(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, context.DeadlineExceeded
	}
}

func (b *ChannelBus) publishMessage(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, key := range []string{makeKey(msg.Scope, msg.Topic), makeKey(domain.AnyScope, msg.Topic)} {
		for _, sub := range b.subscriptions[key] {
			select {
			case sub.msgCh <- msg:
			default:
				slog.Warn("subscriber buffer full, dropping message",
					"scope", msg.Scope,
					"topic", msg.Topic,
					"subscription", sub.id,
				)
			}
		}
	}
	return nil
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription. It is safe to call twice.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.key]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[sub.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.key]) == 0 {
		delete(b.subscriptions, sub.key)
	}
}

func makeKey(scope, topic string) string {
	return scope + ":" + topic
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.remove(s)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
