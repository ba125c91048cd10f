package payment

// Metadata is attached to every payment intent so webhook events can be
// correlated back to the access request.
type Metadata struct {
	RequestID string
	AgentID   string
	ListingID string
	Attempt   int
}

// Intent is the gateway's answer to CreateIntent.
type Intent struct {
	ExternalRef  string
	ClientSecret string
}

// EventKind classifies webhook events.
type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventOther     EventKind = "other"
)

// Event is a verified, classified webhook event.
type Event struct {
	ID            string
	Type          string
	Kind          EventKind
	ExternalRef   string
	AmountMinor   int64
	Currency      string
	RequestID     string
	FailureReason string
}
