// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gridwatch/kestrel/internal/domain"
)

// ChannelBus is the in-process event bus for single-node Community
// deployments. It carries profile-ingested, assessment, and alert
// traffic between the API handlers and the async worker.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string][]*chanSub
	closed     bool
	dropped    atomic.Int64
}

type chanSub struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates a channel-backed bus. bufferSize is the
// per-subscriber inbox depth; a full inbox drops new messages rather
// than blocking the publisher, so size it for burst uploads.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string][]*chanSub),
	}
}

// Publish fans a message out to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	subs := b.subs[b.subKey(tenantID, topic)]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
			// Slow subscriber: drop rather than stall the assessment
			// pipeline. Alerts are also persisted, so nothing is lost
			// beyond the live notification.
			b.dropped.Add(1)
			slog.Warn("subscriber inbox full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a tenant's topic. Messages are
// delivered on a dedicated goroutine per subscription.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &chanSub{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	go sub.deliver()

	key := b.subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)

	return sub, nil
}

// deliver drains the inbox until the subscription is cancelled.
func (s *chanSub) deliver() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request implements request-reply over the channel bus. The reply
// subscription is ephemeral and scoped to this call.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
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

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Dropped reports how many messages were discarded because a
// subscriber's inbox was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close cancels every subscription and rejects further operations.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

func (b *ChannelBus) subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops receiving messages.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
