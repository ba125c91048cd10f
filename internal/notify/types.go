package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a notification template.
type Kind string

const (
	KindAccessRequested  Kind = "access_requested"
	KindAccessRejected   Kind = "access_rejected"
	KindAccessApproved   Kind = "access_approved"
	KindPaymentRequired  Kind = "payment_required"
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindPaymentFailed    Kind = "payment_failed"
)

// Recipient roles.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// Notification is a typed record per template kind. Each kind carries the
// fields its template needs.
type Notification interface {
	Kind() Kind
	// RecipientID is the user id to notify; empty for the admin mailbox.
	RecipientID() string
	RecipientRole() string
	// Ref is the access request id the notification refers to.
	Ref() string
}

// AccessRequested tells admins an agent wants renter details for a listing.
type AccessRequested struct {
	RequestID  string `json:"request_id"`
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name,omitempty"`
	AgentEmail string `json:"agent_email,omitempty"`
	ListingID  string `json:"listing_id"`
}

// AccessRejected tells the agent an admin rejected the request.
type AccessRejected struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	ListingID string `json:"listing_id"`
	Notes     string `json:"notes,omitempty"`
}

// AccessApproved tells the agent access was granted free of charge.
type AccessApproved struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	ListingID string `json:"listing_id"`
	Notes     string `json:"notes,omitempty"`
}

// PaymentRequired sends the agent a payment link.
type PaymentRequired struct {
	RequestID   string `json:"request_id"`
	AgentID     string `json:"agent_id"`
	ListingID   string `json:"listing_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PaymentLink string `json:"payment_link"`
	Notes       string `json:"notes,omitempty"`
}

// PaymentSucceeded confirms payment and granted access.
type PaymentSucceeded struct {
	RequestID   string    `json:"request_id"`
	AgentID     string    `json:"agent_id"`
	ListingID   string    `json:"listing_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

// PaymentFailed reports a failed attempt and how many remain.
type PaymentFailed struct {
	RequestID         string `json:"request_id"`
	AgentID           string `json:"agent_id"`
	ListingID         string `json:"listing_id"`
	FailureCount      int    `json:"failure_count"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	Reason            string `json:"reason,omitempty"`
	PaymentLink       string `json:"payment_link,omitempty"`
}

func (AccessRequested) Kind() Kind            { return KindAccessRequested }
func (AccessRequested) RecipientID() string   { return "" }
func (AccessRequested) RecipientRole() string { return RoleAdmin }
func (n AccessRequested) Ref() string         { return n.RequestID }

func (AccessRejected) Kind() Kind            { return KindAccessRejected }
func (n AccessRejected) RecipientID() string { return n.AgentID }
func (AccessRejected) RecipientRole() string { return RoleAgent }
func (n AccessRejected) Ref() string         { return n.RequestID }

func (AccessApproved) Kind() Kind            { return KindAccessApproved }
func (n AccessApproved) RecipientID() string { return n.AgentID }
func (AccessApproved) RecipientRole() string { return RoleAgent }
func (n AccessApproved) Ref() string         { return n.RequestID }

func (PaymentRequired) Kind() Kind            { return KindPaymentRequired }
func (n PaymentRequired) RecipientID() string { return n.AgentID }
func (PaymentRequired) RecipientRole() string { return RoleAgent }
func (n PaymentRequired) Ref() string         { return n.RequestID }

func (PaymentSucceeded) Kind() Kind            { return KindPaymentSucceeded }
func (n PaymentSucceeded) RecipientID() string { return n.AgentID }
func (PaymentSucceeded) RecipientRole() string { return RoleAgent }
func (n PaymentSucceeded) Ref() string         { return n.RequestID }

func (PaymentFailed) Kind() Kind            { return KindPaymentFailed }
func (n PaymentFailed) RecipientID() string { return n.AgentID }
func (PaymentFailed) RecipientRole() string { return RoleAgent }
func (n PaymentFailed) Ref() string         { return n.RequestID }

// Envelope is the queue wire format.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode wraps n in an Envelope with the given id.
func Encode(id string, n Notification, now time.Time) (Envelope, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", n.Kind(), err)
	}
	return Envelope{ID: id, Kind: n.Kind(), CreatedAt: now.UTC(), Payload: b}, nil
}

// Decode returns the typed notification carried by env.
func Decode(env Envelope) (Notification, error) {
	var (
		n   Notification
		err error
	)
	switch env.Kind {
	case KindAccessRequested:
		var v AccessRequested
		err = json.Unmarshal(env.Payload, &v)
		n = v
	case KindAccessRejected:
		var v AccessRejected
		err = json.Unmarshal(env.Payload, &v)
		n = v
	case KindAccessApproved:
		var v AccessApproved
		err = json.Unmarshal(env.Payload, &v)
		n = v
	case KindPaymentRequired:
		var v PaymentRequired
		err = json.Unmarshal(env.Payload, &v)
		n = v
	case KindPaymentSucceeded:
		var v PaymentSucceeded
		err = json.Unmarshal(env.Payload, &v)
		n = v
	case KindPaymentFailed:
		var v PaymentFailed
		err = json.Unmarshal(env.Payload, &v)
		n = v
	default:
		return nil, fmt.Errorf("unknown notification kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return n, nil
}
