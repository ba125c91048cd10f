package access

import "time"

// Access request statuses.
//
// StatusApproved is the single "granted without payment" state. Records
// written with the legacy "free" value are normalized to StatusApproved on
// read (see normalize).
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusPaid     = "paid"
	StatusRejected = "rejected"

	legacyStatusFree = "free"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// Admin decision actions.
const (
	ActionApprove = "approve"
	ActionCharge  = "charge"
	ActionReject  = "reject"
)

// Viewer classes for the listing viewed-by sets.
const (
	ViewerGrantAccess = "grant_access"
	ViewerNormal      = "normal"
)

// History actions for the payment-record audit log.
const (
	HistorySoftDelete = "soft_delete"
	HistoryRestore    = "restore"
)

// AccessRequest is the per-(listing, agent) grant-access record stored in the
// access requests table.
type AccessRequest struct {
	RequestID  string         `dynamodbav:"request_id" json:"request_id"` // PK
	ListingID  string         `dynamodbav:"listing_id" json:"listing_id"`
	AgentID    string         `dynamodbav:"agent_id" json:"agent_id"`
	Status     string         `dynamodbav:"status" json:"status"` // pending | approved | paid | rejected
	Payment    *Payment       `dynamodbav:"payment,omitempty" json:"payment,omitempty"`
	Decision   *AdminDecision `dynamodbav:"admin_decision,omitempty" json:"admin_decision,omitempty"`
	PaymentRef string         `dynamodbav:"payment_ref,omitempty" json:"-"` // mirrors Payment.ExternalRef for the payment_ref GSI
	// FailedEventIDs lives at the top level because DynamoDB ADD only works on top-level sets.
	FailedEventIDs []string  `dynamodbav:"failed_event_ids,omitempty,stringset" json:"-"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`

	IsDeleted bool           `dynamodbav:"is_deleted" json:"is_deleted"`
	DeletedAt *time.Time     `dynamodbav:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	DeletedBy string         `dynamodbav:"deleted_by,omitempty" json:"deleted_by,omitempty"`
	History   []HistoryEntry `dynamodbav:"history,omitempty" json:"history,omitempty"`
}

// Payment is present once an admin chose to charge for access.
type Payment struct {
	AmountCents  int64       `dynamodbav:"amount_cents" json:"amount_cents"`
	Currency     string      `dynamodbav:"currency" json:"currency"`
	ExternalRef  string      `dynamodbav:"external_ref,omitempty" json:"external_ref,omitempty"`
	Status       string      `dynamodbav:"status" json:"status"` // pending | succeeded | failed
	FailureCount int         `dynamodbav:"failure_count" json:"failure_count"`
	FailedAt     []time.Time `dynamodbav:"failed_at,omitempty" json:"failed_at,omitempty"`
	SucceededAt  *time.Time  `dynamodbav:"succeeded_at,omitempty" json:"succeeded_at,omitempty"`
}

// AdminDecision records who decided what and when.
type AdminDecision struct {
	Action            string    `dynamodbav:"action" json:"action"`
	DecidedBy         string    `dynamodbav:"decided_by" json:"decided_by"`
	DecidedAt         time.Time `dynamodbav:"decided_at" json:"decided_at"`
	Notes             string    `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	ChargeAmountCents int64     `dynamodbav:"charge_amount_cents,omitempty" json:"charge_amount_cents,omitempty"`
	IsFree            bool      `dynamodbav:"is_free" json:"is_free"`
}

// HistoryEntry is one append-only soft-delete/restore audit record.
type HistoryEntry struct {
	Actor  string    `dynamodbav:"actor" json:"actor"`
	Action string    `dynamodbav:"action" json:"action"`
	At     time.Time `dynamodbav:"at" json:"at"`
	Reason string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
}

// IsPending reports whether the request still awaits an admin decision or a payment.
func (r *AccessRequest) IsPending() bool { return r.Status == StatusPending }

// IsGranted reports whether the agent may view the listing's renter detail.
func (r *AccessRequest) IsGranted() bool {
	return r.Status == StatusApproved || r.Status == StatusPaid
}

// AwaitingPayment reports whether a charge decision was made and payment is outstanding.
func (r *AccessRequest) AwaitingPayment() bool {
	return r.Status == StatusPending && r.Decision != nil && r.Payment != nil
}

func (r *AccessRequest) normalize() {
	if r.Status == legacyStatusFree {
		r.Status = StatusApproved
	}
}

// NormalizeStatus maps legacy status spellings onto the current set.
func NormalizeStatus(s string) string {
	if s == legacyStatusFree {
		return StatusApproved
	}
	return s
}

// ViewerAccess is the outcome of a visibility check.
type ViewerAccess struct {
	Allowed    bool   `json:"allowed"`
	AccessKind string `json:"access_kind"` // grant_access | approved | paid
	RequestID  string `json:"request_id,omitempty"`
}

// Access kinds reported by ResolveViewerAccess.
const (
	AccessKindGrantAgent = "grant_access"
	AccessKindApproved   = "approved"
	AccessKindPaid       = "paid"
)

// PaymentIntent is returned to the agent's client-side payment UI.
type PaymentIntent struct {
	RequestID    string `json:"request_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// DecisionOptions carries the optional parts of an admin decision.
type DecisionOptions struct {
	Notes             string
	ChargeAmountCents int64
}

// Filter narrows admin payment-record listings.
type Filter struct {
	PaymentStatus  string
	AccessStatus   string
	IncludeDeleted bool
	Page           int
	Limit          int
}

// Page is one page of enriched admin rows.
type Page struct {
	Items []Row `json:"items"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int   `json:"total"`
	Pages int   `json:"pages"`
}

// Row is an AccessRequest enriched with agent and listing details.
type Row struct {
	AccessRequest
	AgentName  string `json:"agent_name,omitempty"`
	AgentEmail string `json:"agent_email,omitempty"`
	ListingRef string `json:"listing_ref,omitempty"`
}

// Stats aggregates payment records for the admin dashboard.
type Stats struct {
	TotalRequests       int            `json:"total_requests"`
	TotalPaid           int            `json:"total_paid"`
	TotalPending        int            `json:"total_pending"`
	TotalFailed         int            `json:"total_failed"`
	TotalRevenueCents   int64          `json:"total_revenue_cents"`
	AveragePaymentCents int64          `json:"average_payment_cents"`
	Currency            string         `json:"currency"`
	ByAccessStatus      map[string]int `json:"by_access_status"`
	ByPaymentStatus     map[string]int `json:"by_payment_status"`
}

// BulkDeleteResult reports partial success for a bulk hard delete.
type BulkDeleteResult struct {
	DeletedCount int      `json:"deleted_count"`
	FailedCount  int      `json:"failed_count"`
	FailedIDs    []string `json:"failed_ids,omitempty"`
}

// AgentView is the agent-facing summary of their own request.
type AgentView struct {
	RequestID         string     `json:"request_id"`
	ListingID         string     `json:"listing_id"`
	Status            string     `json:"status"`
	AwaitingPayment   bool       `json:"awaiting_payment"`
	AmountCents       int64      `json:"amount_cents,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	PaymentStatus     string     `json:"payment_status,omitempty"`
	FailureCount      int        `json:"failure_count,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
