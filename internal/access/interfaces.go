package access

import (
	"context"
	"time"

	"github.com/imrishuroy/grant-access/internal/directory"
	"github.com/imrishuroy/grant-access/internal/listings"
	"github.com/imrishuroy/grant-access/internal/notify"
	"github.com/imrishuroy/grant-access/internal/payment"
)

// Repository persists access requests. Every mutating method is a
// conditional write on the expected prior state and returns
// ErrStatusMismatch when that state no longer holds.
type Repository interface {
	Create(ctx context.Context, req AccessRequest) error
	Get(ctx context.Context, requestID string) (*AccessRequest, error)
	GetByPair(ctx context.Context, listingID, agentID string) (*AccessRequest, error)
	GetByPaymentRef(ctx context.Context, ref string) (*AccessRequest, error)
	List(ctx context.Context) ([]AccessRequest, error)

	ApplyDecision(ctx context.Context, requestID, newStatus string, decision AdminDecision, pay *Payment) error
	SetPaymentRef(ctx context.Context, requestID, ref string, maxAttempts int) error
	MarkPaid(ctx context.Context, requestID string, at time.Time) error
	RecordPaymentFailure(ctx context.Context, requestID, eventID string, at time.Time, maxAttempts int) error

	SoftDelete(ctx context.Context, requestID string, entry HistoryEntry) error
	Restore(ctx context.Context, requestID string, entry HistoryEntry) error
	Delete(ctx context.Context, requestID string) (bool, error)
}

// ListingStore is the slice of the listing store the engine needs.
type ListingStore interface {
	Get(ctx context.Context, listingID string) (*listings.Listing, error)
	GetActivation(ctx context.Context, listingID string) (listings.Activation, error)
	AddViewer(ctx context.Context, listingID, agentID, viewerClass string) error
}

// Directory resolves agent profiles and user identities.
type Directory interface {
	GetAgentProfile(ctx context.Context, agentID string) (*directory.AgentProfile, error)
	GetUser(ctx context.Context, userID string) (*directory.User, error)
}

// Gateway is the payment processor adapter.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, meta payment.Metadata) (*payment.Intent, error)
}

// Notifier accepts a typed notification for delivery.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Metrics counts business events.
type Metrics interface {
	Count(ctx context.Context, name string, dims map[string]string) error
}

type noopMetrics struct{}

func (noopMetrics) Count(context.Context, string, map[string]string) error { return nil }
