package queue

import "context"

// Enqueuer hands a queued run to the worker pool and returns an opaque task
// handle stored back on the run row.
type Enqueuer interface {
	Enqueue(ctx context.Context, envelope RunEnvelope) (string, error)
}

// Handler consumes one enqueued run. A returned error nacks the message on
// transports that support redelivery; the run ledger's single-flight
// constraint makes duplicate delivery harmless.
type Handler func(ctx context.Context, envelope RunEnvelope) error

// Consumer feeds enqueued runs into a handler until the context is canceled.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
}
