package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

// PubSubQueue moves run envelopes over a Pub/Sub topic/subscription pair.
type PubSubQueue struct {
	publisher      *gcppubsub.Publisher
	subscriber     *gcppubsub.Subscriber
	logg           *logger.Logger
	publishTimeout time.Duration
}

// PubSubQueueParams configure the queue.
type PubSubQueueParams struct {
	Publisher      *gcppubsub.Publisher
	Subscriber     *gcppubsub.Subscriber
	Logger         *logger.Logger
	PublishTimeout time.Duration
}

// NewPubSubQueue wires a queue over existing publisher/subscriber handles.
// Either side may be nil when a binary only publishes or only consumes.
func NewPubSubQueue(params PubSubQueueParams) (*PubSubQueue, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Publisher == nil && params.Subscriber == nil {
		return nil, errors.New("publisher or subscriber is required")
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubQueue{
		publisher:      params.Publisher,
		subscriber:     params.Subscriber,
		logg:           params.Logger,
		publishTimeout: timeout,
	}, nil
}

// Enqueue publishes the envelope and returns the server message id as handle.
func (q *PubSubQueue) Enqueue(ctx context.Context, envelope RunEnvelope) (string, error) {
	if q.publisher == nil {
		return "", errors.New("queue has no publisher configured")
	}
	data, err := envelope.Encode()
	if err != nil {
		return "", err
	}

	publishCtx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()

	result := q.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"jobCode":     envelope.JobCode,
			"marketplace": string(envelope.Marketplace),
		},
	})
	id, err := result.Get(publishCtx)
	if err != nil {
		return "", fmt.Errorf("publishing run %s: %w", envelope.RunID, err)
	}
	return id, nil
}

// Run receives envelopes until the context is canceled.
func (q *PubSubQueue) Run(ctx context.Context, handler Handler) error {
	if q.subscriber == nil {
		return errors.New("queue has no subscriber configured")
	}
	return q.subscriber.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		envelope, err := DecodeRunEnvelope(msg.Data)
		if err != nil {
			// Malformed messages would never succeed on redelivery.
			q.logg.Error(msgCtx, "dropping malformed run envelope", err)
			msg.Ack()
			return
		}
		logCtx := q.logg.WithRunID(msgCtx, envelope.RunID.String())
		if err := handler(logCtx, envelope); err != nil {
			q.logg.Error(logCtx, "run handler failed, nacking for redelivery", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
