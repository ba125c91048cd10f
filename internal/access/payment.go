package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/notify"
	"github.com/imrishuroy/grant-access/internal/payment"
)

// CreatePaymentIntent opens a gateway payment intent for a charged request
// and stores its reference for webhook correlation. agentID, when set, must
// own the request.
func (e *Engine) CreatePaymentIntent(ctx context.Context, agentID, requestID string) (*PaymentIntent, error) {
	if requestID == "" {
		return nil, apperr.BadRequest("request id is required")
	}

	req, err := e.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil || req.IsDeleted {
		return nil, apperr.NotFound("access request %s not found", requestID)
	}
	if agentID != "" && req.AgentID != agentID {
		return nil, apperr.Forbidden("access request %s does not belong to agent %s", requestID, agentID)
	}
	if req.Payment == nil {
		return nil, apperr.BadRequest("access request %s has no charge to pay", requestID)
	}
	if req.Status != StatusPending || req.Payment.SucceededAt != nil {
		return nil, apperr.BadRequest("access request %s is %s and not awaiting payment", requestID, req.Status)
	}
	if req.Payment.FailureCount >= e.cfg.MaxPaymentAttempts {
		return nil, apperr.Forbidden("payment attempt limit reached for access request %s", requestID)
	}

	if e.gateway == nil {
		return nil, errors.New("create payment intent: no payment gateway configured")
	}

	p := req.Payment
	currency := p.Currency
	if currency == "" {
		currency = e.cfg.Currency
	}
	intent, err := e.gateway.CreateIntent(ctx, p.AmountCents, currency, payment.Metadata{
		RequestID: req.RequestID,
		AgentID:   req.AgentID,
		ListingID: req.ListingID,
		Attempt:   p.FailureCount + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	if err := e.repo.SetPaymentRef(ctx, requestID, intent.ExternalRef, e.cfg.MaxPaymentAttempts); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return nil, apperr.Conflict("access request %s changed while creating the payment intent", requestID)
		}
		return nil, fmt.Errorf("store payment ref: %w", err)
	}

	e.logger.Info("payment intent created", "request_id", requestID, "payment_ref", intent.ExternalRef, "attempt", p.FailureCount+1)
	e.count(ctx, MetricPaymentIntentCreated, nil)
	return &PaymentIntent{
		RequestID:    requestID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  p.AmountCents,
		Currency:     currency,
	}, nil
}

// ReconcileWebhookEvent applies a verified gateway event. Replays are no-ops.
// Correlation anomalies are logged and counted but return nil so the gateway
// stops redelivering; only storage failures return an error.
func (e *Engine) ReconcileWebhookEvent(ctx context.Context, ev payment.Event) error {
	switch ev.Kind {
	case payment.EventSucceeded:
		return e.reconcileSuccess(ctx, ev)
	case payment.EventFailed:
		return e.reconcileFailure(ctx, ev)
	default:
		e.logger.Info("ignoring payment event", "event_id", ev.ID, "type", ev.Type, "payment_ref", ev.ExternalRef)
		return nil
	}
}

// lookupByRef finds the request for an event. Metadata is the fallback when
// the payment_ref index has not caught up yet or when the event belongs to
// an intent that a newer attempt superseded. With strict set, the fallback
// only matches the request's current intent.
func (e *Engine) lookupByRef(ctx context.Context, ev payment.Event, strict bool) (*AccessRequest, error) {
	if ev.ExternalRef == "" {
		return nil, nil
	}
	req, err := e.repo.GetByPaymentRef(ctx, ev.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("lookup payment ref: %w", err)
	}
	if req != nil || ev.RequestID == "" {
		return req, nil
	}
	req, err = e.repo.Get(ctx, ev.RequestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request from metadata: %w", err)
	}
	if req == nil || req.Payment == nil {
		return nil, nil
	}
	if req.Payment.ExternalRef != ev.ExternalRef {
		if strict {
			return nil, nil
		}
		e.logger.Warn("payment event for superseded intent",
			"request_id", req.RequestID, "event_ref", ev.ExternalRef, "current_ref", req.Payment.ExternalRef)
	}
	return req, nil
}

func (e *Engine) orphan(ctx context.Context, ev payment.Event, reason string) {
	e.logger.Error("payment event has no matching access request",
		"event_id", ev.ID, "type", ev.Type, "payment_ref", ev.ExternalRef,
		"metadata_request_id", ev.RequestID, "amount_minor", ev.AmountMinor, "reason", reason)
	e.count(ctx, MetricReconcileOrphan, map[string]string{"Kind": string(ev.Kind)})
}

func (e *Engine) reconcileSuccess(ctx context.Context, ev payment.Event) error {
	req, err := e.lookupByRef(ctx, ev, false)
	if err != nil {
		return err
	}
	if req == nil {
		e.orphan(ctx, ev, "unknown payment ref")
		return nil
	}
	if req.Payment != nil && req.Payment.SucceededAt != nil {
		e.logger.Info("payment success already applied", "request_id", req.RequestID, "event_id", ev.ID)
		return nil
	}
	if req.Status != StatusPending || req.Payment == nil || req.IsDeleted {
		e.orphan(ctx, ev, "request not payable (status "+req.Status+")")
		return nil
	}
	if ev.AmountMinor != 0 && ev.AmountMinor != req.Payment.AmountCents {
		e.logger.Warn("payment amount differs from charge",
			"request_id", req.RequestID, "charged", req.Payment.AmountCents, "received", ev.AmountMinor)
	}

	paidAt := e.now()
	if err := e.repo.MarkPaid(ctx, req.RequestID, paidAt); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			e.logger.Info("payment success lost race or replayed", "request_id", req.RequestID, "event_id", ev.ID)
			return nil
		}
		return fmt.Errorf("mark paid: %w", err)
	}

	e.logger.Info("payment succeeded", "request_id", req.RequestID, "payment_ref", ev.ExternalRef)
	e.count(ctx, MetricPaymentSucceeded, nil)
	e.bestEffort(ctx, "add viewer", req.RequestID, func(ctx context.Context) error {
		return e.listings.AddViewer(ctx, req.ListingID, req.AgentID, ViewerNormal)
	})
	e.dispatch(ctx, notify.PaymentSucceeded{
		RequestID:   req.RequestID,
		AgentID:     req.AgentID,
		ListingID:   req.ListingID,
		AmountCents: req.Payment.AmountCents,
		Currency:    req.Payment.Currency,
		PaidAt:      paidAt,
	})
	return nil
}

func (e *Engine) reconcileFailure(ctx context.Context, ev payment.Event) error {
	req, err := e.lookupByRef(ctx, ev, true)
	if err != nil {
		return err
	}
	if req == nil {
		e.orphan(ctx, ev, "unknown payment ref")
		return nil
	}
	if req.Status != StatusPending || req.Payment == nil || req.Payment.SucceededAt != nil || req.IsDeleted {
		e.logger.Warn("ignoring payment failure for settled request",
			"request_id", req.RequestID, "status", req.Status, "event_id", ev.ID)
		return nil
	}
	for _, id := range req.FailedEventIDs {
		if id == ev.ID {
			e.logger.Info("payment failure already recorded", "request_id", req.RequestID, "event_id", ev.ID)
			return nil
		}
	}
	limit := e.cfg.MaxPaymentAttempts
	if req.Payment.FailureCount >= limit {
		e.logger.Warn("payment failure beyond attempt limit ignored",
			"request_id", req.RequestID, "failure_count", req.Payment.FailureCount, "event_id", ev.ID)
		return nil
	}

	eventID := ev.ID
	if eventID == "" {
		eventID = e.newID()
	}
	if err := e.repo.RecordPaymentFailure(ctx, req.RequestID, eventID, e.now(), limit); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			e.logger.Info("payment failure lost race or replayed", "request_id", req.RequestID, "event_id", ev.ID)
			return nil
		}
		return fmt.Errorf("record payment failure: %w", err)
	}

	count := req.Payment.FailureCount + 1
	remaining := limit - count
	e.logger.Info("payment failed", "request_id", req.RequestID, "failure_count", count, "reason", ev.FailureReason)
	e.count(ctx, MetricPaymentFailed, nil)

	n := notify.PaymentFailed{
		RequestID:         req.RequestID,
		AgentID:           req.AgentID,
		ListingID:         req.ListingID,
		FailureCount:      count,
		AttemptsRemaining: remaining,
		Reason:            ev.FailureReason,
	}
	if remaining > 0 {
		n.PaymentLink = e.paymentLink(req.RequestID)
	}
	e.dispatch(ctx, n)
	return nil
}
