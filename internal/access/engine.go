// Package access implements the grant-access workflow: the per-(listing,
// agent) access request state machine, its payment sub-flow, the viewer
// access policy, and administrative payment-record management.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/notify"
)

// Defaults applied by NewEngine when Config leaves a field zero.
const (
	DefaultCurrency           = "usd"
	DefaultMaxPaymentAttempts = 5
	DefaultBulkDeleteLimit    = 100
)

// Config holds the deployment-level settings the engine needs.
type Config struct {
	Currency           string
	MaxPaymentAttempts int
	BulkDeleteLimit    int
	// PaymentLinkBaseURL prefixes the request id in payment-link notifications.
	PaymentLinkBaseURL string
}

// Deps are the engine's collaborators. Notifier and Metrics may be nil.
type Deps struct {
	Repo      Repository
	Listings  ListingStore
	Directory Directory
	Gateway   Gateway
	Notifier  Notifier
	Metrics   Metrics
	Logger    *slog.Logger
}

// Engine owns access request state transitions.
type Engine struct {
	repo      Repository
	listings  ListingStore
	directory Directory
	gateway   Gateway
	notifier  Notifier
	metrics   Metrics
	logger    *slog.Logger
	cfg       Config

	nowFunc func() time.Time
	newID   func() string
}

// NewEngine wires an Engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.MaxPaymentAttempts <= 0 {
		cfg.MaxPaymentAttempts = DefaultMaxPaymentAttempts
	}
	if cfg.BulkDeleteLimit <= 0 {
		cfg.BulkDeleteLimit = DefaultBulkDeleteLimit
	}
	e := &Engine{
		repo:      deps.Repo,
		listings:  deps.Listings,
		directory: deps.Directory,
		gateway:   deps.Gateway,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		nowFunc:   time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) now() time.Time { return e.nowFunc().UTC() }

func (e *Engine) paymentLink(requestID string) string {
	if e.cfg.PaymentLinkBaseURL == "" {
		return ""
	}
	return strings.TrimRight(e.cfg.PaymentLinkBaseURL, "/") + "/" + requestID
}

// RequestAccess creates a pending access request for (listingID, agentID).
func (e *Engine) RequestAccess(ctx context.Context, agentID, listingID string) (*AccessRequest, error) {
	if agentID == "" || listingID == "" {
		return nil, apperr.BadRequest("agent id and listing id are required")
	}

	act, err := e.listings.GetActivation(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("get listing activation: %w", err)
	}
	if !act.Exists {
		return nil, apperr.NotFound("listing %s not found", listingID)
	}
	if !act.IsActive {
		return nil, apperr.Forbidden("listing %s is not active", listingID)
	}

	profile, err := e.directory.GetAgentProfile(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent profile: %w", err)
	}
	if profile == nil {
		return nil, apperr.Forbidden("user %s is not an agent", agentID)
	}

	existing, err := e.repo.GetByPair(ctx, listingID, agentID)
	if err != nil {
		return nil, fmt.Errorf("get existing request: %w", err)
	}
	if existing != nil {
		return nil, duplicateError(existing)
	}

	now := e.now()
	req := AccessRequest{
		RequestID: e.newID(),
		ListingID: listingID,
		AgentID:   agentID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// lost a race with a concurrent request for the same pair
			if winner, gerr := e.repo.GetByPair(ctx, listingID, agentID); gerr == nil && winner != nil {
				return nil, duplicateError(winner)
			}
			return nil, apperr.Conflict("access request for listing %s already exists", listingID)
		}
		return nil, fmt.Errorf("create access request: %w", err)
	}

	e.logger.Info("access requested", "request_id", req.RequestID, "listing_id", listingID, "agent_id", agentID)
	e.count(ctx, MetricAccessRequested, nil)
	e.dispatch(ctx, notify.AccessRequested{
		RequestID:  req.RequestID,
		AgentID:    agentID,
		AgentName:  profile.Name,
		AgentEmail: profile.Email,
		ListingID:  listingID,
	})
	return &req, nil
}

// duplicateError discloses the existing request's state so the caller can
// decide whether to wait, pay, or contact support.
func duplicateError(existing *AccessRequest) error {
	switch {
	case existing.IsGranted():
		return apperr.Conflict("access to listing %s already granted (request %s, status %s)",
			existing.ListingID, existing.RequestID, existing.Status)
	case existing.AwaitingPayment():
		return apperr.Conflict("access request %s for listing %s is awaiting payment (status %s)",
			existing.RequestID, existing.ListingID, existing.Status)
	default:
		return apperr.Conflict("access request %s for listing %s already exists (status %s)",
			existing.RequestID, existing.ListingID, existing.Status)
	}
}

// AdminDecide applies approve, charge, or reject to a pending request that
// has not been decided yet.
func (e *Engine) AdminDecide(ctx context.Context, requestID, action, adminID string, opts DecisionOptions) (*AccessRequest, error) {
	if requestID == "" || adminID == "" {
		return nil, apperr.BadRequest("request id and admin id are required")
	}

	now := e.now()
	decision := AdminDecision{
		Action:    action,
		DecidedBy: adminID,
		DecidedAt: now,
		Notes:     opts.Notes,
	}
	var (
		newStatus string
		pay       *Payment
	)
	switch action {
	case ActionReject:
		newStatus = StatusRejected
	case ActionApprove:
		newStatus = StatusApproved
		decision.IsFree = true
	case ActionCharge:
		if opts.ChargeAmountCents <= 0 {
			return nil, apperr.BadRequest("charge amount must be greater than zero")
		}
		newStatus = StatusPending
		decision.ChargeAmountCents = opts.ChargeAmountCents
		pay = &Payment{
			AmountCents: opts.ChargeAmountCents,
			Currency:    e.cfg.Currency,
			Status:      PaymentPending,
		}
	default:
		return nil, apperr.BadRequest("invalid action %q: must be approve, charge or reject", action)
	}

	req, err := e.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil || req.IsDeleted {
		return nil, apperr.NotFound("access request %s not found", requestID)
	}
	if !req.IsPending() || req.Decision != nil {
		return nil, alreadyDecided(req)
	}

	if err := e.repo.ApplyDecision(ctx, requestID, newStatus, decision, pay); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			if cur, gerr := e.repo.Get(ctx, requestID); gerr == nil && cur != nil {
				return nil, alreadyDecided(cur)
			}
			return nil, apperr.Conflict("access request %s changed concurrently", requestID)
		}
		return nil, fmt.Errorf("apply decision: %w", err)
	}

	req.Status = newStatus
	req.Decision = &decision
	req.Payment = pay
	req.UpdatedAt = now

	e.logger.Info("admin decision applied", "request_id", requestID, "action", action, "admin_id", adminID)
	e.count(ctx, MetricAdminDecision, map[string]string{"Action": action})

	switch action {
	case ActionReject:
		e.dispatch(ctx, notify.AccessRejected{
			RequestID: req.RequestID,
			AgentID:   req.AgentID,
			ListingID: req.ListingID,
			Notes:     opts.Notes,
		})
	case ActionApprove:
		e.bestEffort(ctx, "add viewer", requestID, func(ctx context.Context) error {
			return e.listings.AddViewer(ctx, req.ListingID, req.AgentID, ViewerNormal)
		})
		e.dispatch(ctx, notify.AccessApproved{
			RequestID: req.RequestID,
			AgentID:   req.AgentID,
			ListingID: req.ListingID,
			Notes:     opts.Notes,
		})
	case ActionCharge:
		e.dispatch(ctx, notify.PaymentRequired{
			RequestID:   req.RequestID,
			AgentID:     req.AgentID,
			ListingID:   req.ListingID,
			AmountCents: pay.AmountCents,
			Currency:    pay.Currency,
			PaymentLink: e.paymentLink(req.RequestID),
			Notes:       opts.Notes,
		})
	}
	return req, nil
}

func alreadyDecided(req *AccessRequest) error {
	if req.AwaitingPayment() {
		return apperr.Conflict("access request %s was already decided and is awaiting payment", req.RequestID)
	}
	return apperr.Conflict("access request %s was already decided (status %s)", req.RequestID, req.Status)
}

// GetAgentRequest returns the agent's own request for a listing.
func (e *Engine) GetAgentRequest(ctx context.Context, agentID, listingID string) (*AgentView, error) {
	if agentID == "" || listingID == "" {
		return nil, apperr.BadRequest("agent id and listing id are required")
	}
	req, err := e.repo.GetByPair(ctx, listingID, agentID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("no access request for listing %s", listingID)
	}

	v := &AgentView{
		RequestID:       req.RequestID,
		ListingID:       req.ListingID,
		Status:          req.Status,
		AwaitingPayment: req.AwaitingPayment(),
		CreatedAt:       req.CreatedAt,
	}
	if p := req.Payment; p != nil {
		v.AmountCents = p.AmountCents
		v.Currency = p.Currency
		v.PaymentStatus = p.Status
		v.FailureCount = p.FailureCount
		v.PaidAt = p.SucceededAt
		if req.AwaitingPayment() && p.FailureCount < e.cfg.MaxPaymentAttempts {
			v.AttemptsRemaining = e.cfg.MaxPaymentAttempts - p.FailureCount
		}
	}
	return v, nil
}
