package idempotency

import "time"

// Status values for webhook event records
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// EventRecord is the shape persisted in the webhook events DynamoDB table.
// One record exists per gateway event id until its TTL expires.
type EventRecord struct {
	EventID    string    `dynamodbav:"event_id"` // PK
	Status     string    `dynamodbav:"status"`
	EventType  string    `dynamodbav:"event_type"`
	PaymentRef string    `dynamodbav:"payment_ref,omitempty"`
	Attempts   int       `dynamodbav:"attempts"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note       string    `dynamodbav:"note,omitempty"`
}
