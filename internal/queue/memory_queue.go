package queue

import (
	"context"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// Handler consumes one work message to completion or failure. Handlers must
// be idempotent: delivery is at-least-once and the recovery sweep re-injects
// messages for abandoned jobs.
type Handler func(ctx context.Context, msg models.WorkMessage) error

// MemoryQueue is the canonical in-process work queue: a bounded channel
// drained by N worker goroutines. A failed handler is logged and the message
// dropped; durability comes from the job row plus the sweep, not from the
// queue itself.
type MemoryQueue struct {
	msgs   chan models.WorkMessage
	logger log.Logger
}

var _ core.WorkQueue = (*MemoryQueue)(nil)

func NewMemoryQueue(depth int, logger log.Logger) *MemoryQueue {
	if depth <= 0 {
		depth = 64
	}
	return &MemoryQueue{
		msgs:   make(chan models.WorkMessage, depth),
		logger: logger,
	}
}

// Publish enqueues a message. If the queue is full, this call blocks until
// space frees up or the context is cancelled.
func (q *MemoryQueue) Publish(ctx context.Context, msg models.WorkMessage) error {
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs numWorkers goroutines reading from the message channel.
func (q *MemoryQueue) Start(ctx context.Context, numWorkers int, handle Handler) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					q.logger.Info().Int("worker", w).Msg("queue worker shutting down")
					return
				case msg := <-q.msgs:
					if err := handle(ctx, msg); err != nil {
						q.logger.Error().Int("worker", w).
							Str("job_id", msg.JobID).Str("document_id", msg.DocumentID).
							Err(err).Msg("work message failed")
					}
				}
			}
		}(w)
	}
}
