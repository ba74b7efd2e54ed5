// Package events fans registry domain events out to in-process subscribers
// and, when configured, across instances via Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types emitted by the registry control plane.
const (
	TypeModelDiscovered       = "model.discovered"
	TypeEndpointHealthChanged = "endpoint.health_changed"
	TypeSyncStarted           = "sync.started"
	TypeSyncCompleted         = "sync.completed"
	TypeDetectionRecorded     = "detection.recorded"
	TypeNotifyNewModel        = "notify.new_model"
	TypeNotifySyncFailure     = "notify.sync_failure"
)

// Event is a single domain event.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus multiplexes events to subscribers. With a Redis client attached the
// bus also bridges events between registry instances.
type Bus struct {
	client redis.UniversalClient
	logger *zap.Logger
	ch     string

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *zap.Logger
	Channel string
}

// NewBus creates an event bus. A nil Redis client keeps the bus purely
// in-process.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = "model-registry-events"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &Bus{
		client:      opts.Client,
		logger:      logger,
		ch:          channel,
		subscribers: make(map[chan Event]struct{}),
	}
	if bus.client != nil {
		go bus.observeRedis()
	}
	return bus
}

// Publish broadcasts an event. Missing identity fields are filled in.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if b.client != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		// The subscription loop echoes the event back to local subscribers.
		return nil
	}

	b.broadcast(evt)
	return nil
}

// Subscribe registers a subscriber and returns a receive channel plus a
// cancel func. The subscription is also torn down when ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("dropping event, subscriber backlog full",
				zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))
		}
	}
}

func (b *Bus) observeRedis() {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.ch)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			b.logger.Warn("redis subscriber error", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logger.Warn("invalid event payload", zap.Error(err))
			continue
		}
		b.broadcast(evt)
	}
}
