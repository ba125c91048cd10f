package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/grant-access/internal/notify"
)

// Deliverer sends one decoded notification; *notify.Dispatcher satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, id string, n notify.Notification) error
}

// Processor drains the notifications queue.
type Processor struct {
	deliverer Deliverer
	logger    *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(d Deliverer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{deliverer: d, logger: logger}
}

// Handle processes an SQS batch and reports the messages that should be
// retried. Successful messages are deleted by the runtime; failed ones
// return to the queue and reach the DLQ after the redrive limit.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("notification delivery failed", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var env notify.Envelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	n, err := notify.Decode(env)
	if err != nil {
		return err
	}

	p.logger.Info("delivering notification", "id", env.ID, "kind", env.Kind, "request_id", n.Ref())
	if err := p.deliverer.Deliver(ctx, env.ID, n); err != nil {
		return fmt.Errorf("deliver %s %s: %w", env.Kind, env.ID, err)
	}
	return nil
}
