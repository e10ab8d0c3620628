package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

// MemoryQueue is a channel-backed queue for single-binary deployments and
// tests, where dispatcher and executor share a process.
type MemoryQueue struct {
	logg     *logger.Logger
	messages chan RunEnvelope
	workers  int

	closeOnce sync.Once
}

// MemoryQueueParams configure the queue.
type MemoryQueueParams struct {
	Logger  *logger.Logger
	Buffer  int
	Workers int
}

// NewMemoryQueue wires an in-process queue.
func NewMemoryQueue(params MemoryQueueParams) (*MemoryQueue, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	buffer := params.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	return &MemoryQueue{
		logg:     params.Logger,
		messages: make(chan RunEnvelope, buffer),
		workers:  workers,
	}, nil
}

// Enqueue pushes the envelope onto the channel. The task handle is a fresh
// uuid since there is no broker-assigned message id.
func (q *MemoryQueue) Enqueue(ctx context.Context, envelope RunEnvelope) (string, error) {
	if err := envelope.Validate(); err != nil {
		return "", err
	}
	select {
	case q.messages <- envelope:
		return uuid.NewString(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run drains envelopes into the handler with a fixed worker pool until the
// context is canceled.
func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case envelope, ok := <-q.messages:
					if !ok {
						return
					}
					logCtx := q.logg.WithRunID(ctx, envelope.RunID.String())
					if err := handler(logCtx, envelope); err != nil {
						q.logg.Error(logCtx, "run handler failed", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops accepting new envelopes. Safe to call more than once.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.messages)
	})
}
