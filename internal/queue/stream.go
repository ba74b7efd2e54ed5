// Package queue moves sync requests between the API tier and the worker via
// a Redis stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

const defaultStream = "model-registry:sync"

// SyncMessage is the payload pushed through the stream to request an
// asynchronous sync run.
type SyncMessage struct {
	RequestID   string               `json:"requestId"`
	Scope       string               `json:"scope"`
	Trigger     registry.TriggerType `json:"trigger"`
	TriggeredBy string               `json:"triggeredBy,omitempty"`
	// ModelID carries the detection that caused a new_model trigger.
	ModelID string `json:"modelId,omitempty"`
}

// Producer publishes sync requests onto the stream.
type Producer struct {
	client redis.UniversalClient
	stream string
}

// NewProducer constructs a producer for the provided stream.
func NewProducer(client redis.UniversalClient, stream string) *Producer {
	if stream == "" {
		stream = defaultStream
	}
	return &Producer{client: client, stream: stream}
}

// Enqueue pushes a sync request to the stream.
func (p *Producer) Enqueue(ctx context.Context, msg SyncMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("queue producer not configured")
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": data,
		},
	}).Err()
}

// Consumer pulls sync requests from a stream consumer group.
type Consumer struct {
	client   redis.UniversalClient
	stream   string
	group    string
	name     string
	blockDur time.Duration
}

// NewConsumer creates a consumer bound to a stream + group.
func NewConsumer(client redis.UniversalClient, stream, group, name string) *Consumer {
	if stream == "" {
		stream = defaultStream
	}
	if group == "" {
		group = "sync-workers"
	}
	if name == "" {
		name = uuid.NewString()
	}
	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		name:     name,
		blockDur: 5 * time.Second,
	}
}

// EnsureGroup ensures the consumer group exists.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("queue consumer not configured")
	}
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Next fetches the next sync request, blocking up to the poll interval.
// A nil message with a nil error means the poll timed out.
func (c *Consumer) Next(ctx context.Context) (*SyncMessage, string, error) {
	if c == nil || c.client == nil {
		return nil, "", fmt.Errorf("queue consumer not configured")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    c.blockDur,
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["data"]
			if !ok {
				continue
			}
			bytes, ok := raw.(string)
			if !ok {
				continue
			}
			var payload SyncMessage
			if err := json.Unmarshal([]byte(bytes), &payload); err != nil {
				return nil, msg.ID, err
			}
			return &payload, msg.ID, nil
		}
	}
	return nil, "", nil
}

// Ack confirms processing of a message.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if c == nil || c.client == nil || id == "" {
		return nil
	}
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}
