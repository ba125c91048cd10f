package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/grant-access/internal/aws"
)

// Publisher sends a message body to the notifications queue.
type Publisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) (string, error)
}

// QueueNotifier enqueues notifications for the worker to deliver.
type QueueNotifier struct {
	publisher Publisher
	nowFunc   func() time.Time
}

func NewQueueNotifier(p Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: p, nowFunc: time.Now}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	env, err := Encode(uuid.NewString(), n, q.nowFunc())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = q.publisher.Publish(ctx, string(body), map[string]string{
		"kind":           string(n.Kind()),
		aws.AttrGroupKey: n.Ref(),
		aws.AttrDedupKey: env.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", n.Kind(), err)
	}
	return nil
}
