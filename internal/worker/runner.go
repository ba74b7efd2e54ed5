// Package worker consumes queued sync requests and executes them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/queue"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

// Queue is the stream the runner drains.
type Queue interface {
	EnsureGroup(ctx context.Context) error
	Next(ctx context.Context) (*queue.SyncMessage, string, error)
	Ack(ctx context.Context, id string) error
}

type syncRunner interface {
	Run(ctx context.Context, scope string, trigger registry.TriggerType, actor string) *registry.SyncJob
}

// Options configure the worker runner.
type Options struct {
	Queue  Queue
	Sync   syncRunner
	Logger *zap.Logger
	// ErrorBackoff is the pause after a stream read failure.
	ErrorBackoff time.Duration
}

// Runner drains the sync request stream.
type Runner struct {
	queue   Queue
	sync    syncRunner
	logger  *zap.Logger
	backoff time.Duration
}

// New creates a Runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := opts.ErrorBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Runner{
		queue:   opts.Queue,
		sync:    opts.Sync,
		logger:  logger,
		backoff: backoff,
	}
}

// Run consumes sync requests until ctx ends. Requests that cannot be
// decoded are acknowledged and dropped so they never redeliver.
func (r *Runner) Run(ctx context.Context) error {
	if r.queue == nil {
		return errors.New("worker queue not configured")
	}
	if err := r.queue.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	r.logger.Info("worker started, consuming sync requests")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, id, err := r.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("read sync stream", zap.String("message_id", id), zap.Error(err))
			if id != "" {
				_ = r.queue.Ack(ctx, id)
			}
			r.sleep(ctx)
			continue
		}
		if msg == nil {
			// Poll timed out.
			continue
		}

		trigger := msg.Trigger
		if trigger == "" {
			trigger = registry.TriggerManual
		}
		actor := msg.TriggeredBy
		if actor == "" {
			actor = "worker"
		}

		job := r.sync.Run(ctx, msg.Scope, trigger, actor)
		r.logger.Info("queued sync finished",
			zap.String("request_id", msg.RequestID),
			zap.String("scope", msg.Scope),
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)))

		if err := r.queue.Ack(ctx, id); err != nil {
			r.logger.Warn("ack sync request", zap.String("message_id", id), zap.Error(err))
		}
	}
}

func (r *Runner) sleep(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
