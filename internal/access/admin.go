package access

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/directory"
)

// Paging bounds for admin listings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.AccessStatus = NormalizeStatus(f.AccessStatus)
	return f
}

func (f Filter) matches(r *AccessRequest) bool {
	if r.IsDeleted && !f.IncludeDeleted {
		return false
	}
	if f.AccessStatus != "" && r.Status != f.AccessStatus {
		return false
	}
	if f.PaymentStatus != "" && (r.Payment == nil || r.Payment.Status != f.PaymentStatus) {
		return false
	}
	return true
}

// ListPayments returns a page of enriched records, newest first.
func (e *Engine) ListPayments(ctx context.Context, f Filter) (*Page, error) {
	f = f.normalized()
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}

	var matched []AccessRequest
	for i := range all {
		if f.matches(&all[i]) {
			matched = append(matched, all[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	p := &Page{Page: f.Page, Limit: f.Limit, Total: len(matched), Items: []Row{}}
	p.Pages = (p.Total + f.Limit - 1) / f.Limit
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return p, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}

	en := newEnricher(e)
	for _, r := range matched[start:end] {
		p.Items = append(p.Items, en.row(ctx, r))
	}
	return p, nil
}

// GetRequest returns one enriched record, soft-deleted ones included.
func (e *Engine) GetRequest(ctx context.Context, requestID string) (*Row, error) {
	req, err := e.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("access request %s not found", requestID)
	}
	row := newEnricher(e).row(ctx, *req)
	return &row, nil
}

// enricher caches directory and listing lookups for one listing call.
// Lookup failures leave the fields blank.
type enricher struct {
	e        *Engine
	agents   map[string]*directory.AgentProfile
	listings map[string]string
}

func newEnricher(e *Engine) *enricher {
	return &enricher{e: e, agents: map[string]*directory.AgentProfile{}, listings: map[string]string{}}
}

func (en *enricher) row(ctx context.Context, r AccessRequest) Row {
	row := Row{AccessRequest: r}

	agent, ok := en.agents[r.AgentID]
	if !ok {
		var err error
		agent, err = en.e.directory.GetAgentProfile(ctx, r.AgentID)
		if err != nil {
			en.e.logger.Warn("enrich agent failed", "agent_id", r.AgentID, "error", err)
		}
		en.agents[r.AgentID] = agent
	}
	if agent != nil {
		row.AgentName = agent.Name
		row.AgentEmail = agent.Email
	}

	ref, ok := en.listings[r.ListingID]
	if !ok {
		l, err := en.e.listings.Get(ctx, r.ListingID)
		if err != nil {
			en.e.logger.Warn("enrich listing failed", "listing_id", r.ListingID, "error", err)
		}
		if l != nil {
			ref = l.Reference
		}
		en.listings[r.ListingID] = ref
	}
	row.ListingRef = ref
	return row
}

// Stats aggregates non-deleted records.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}

	s := &Stats{
		Currency:        e.cfg.Currency,
		ByAccessStatus:  map[string]int{},
		ByPaymentStatus: map[string]int{},
	}
	for i := range all {
		r := &all[i]
		if r.IsDeleted {
			continue
		}
		s.TotalRequests++
		s.ByAccessStatus[r.Status]++
		if r.Payment == nil {
			continue
		}
		s.ByPaymentStatus[r.Payment.Status]++
		switch r.Payment.Status {
		case PaymentSucceeded:
			s.TotalPaid++
			s.TotalRevenueCents += r.Payment.AmountCents
		case PaymentPending:
			s.TotalPending++
		case PaymentFailed:
			s.TotalFailed++
		}
	}
	if s.TotalPaid > 0 {
		s.AveragePaymentCents = s.TotalRevenueCents / int64(s.TotalPaid)
	}
	return s, nil
}

// SoftDelete hides a payment record and records why.
func (e *Engine) SoftDelete(ctx context.Context, requestID, adminID, reason string) (*AccessRequest, error) {
	if adminID == "" {
		return nil, apperr.BadRequest("admin id is required")
	}
	req, err := e.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("payment record %s not found", requestID)
	}
	if req.IsDeleted {
		return nil, apperr.Conflict("payment record %s is already deleted", requestID)
	}

	entry := HistoryEntry{Actor: adminID, Action: HistorySoftDelete, At: e.now(), Reason: reason}
	if err := e.repo.SoftDelete(ctx, requestID, entry); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return nil, apperr.Conflict("payment record %s changed concurrently", requestID)
		}
		return nil, fmt.Errorf("soft delete: %w", err)
	}
	e.logger.Info("payment record soft-deleted", "request_id", requestID, "admin_id", adminID)

	at := entry.At
	req.IsDeleted = true
	req.DeletedAt = &at
	req.DeletedBy = adminID
	req.History = append(req.History, entry)
	return req, nil
}

// Restore reverses a soft delete.
func (e *Engine) Restore(ctx context.Context, requestID, adminID, reason string) (*AccessRequest, error) {
	if adminID == "" {
		return nil, apperr.BadRequest("admin id is required")
	}
	req, err := e.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("payment record %s not found", requestID)
	}
	if !req.IsDeleted {
		return nil, apperr.BadRequest("payment record %s is not deleted", requestID)
	}

	entry := HistoryEntry{Actor: adminID, Action: HistoryRestore, At: e.now(), Reason: reason}
	if err := e.repo.Restore(ctx, requestID, entry); err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			return nil, apperr.Conflict("another access request exists for listing %s and agent %s", req.ListingID, req.AgentID)
		case errors.Is(err, ErrStatusMismatch):
			return nil, apperr.Conflict("payment record %s changed concurrently", requestID)
		}
		return nil, fmt.Errorf("restore: %w", err)
	}
	e.logger.Info("payment record restored", "request_id", requestID, "admin_id", adminID)

	req.IsDeleted = false
	req.DeletedAt = nil
	req.DeletedBy = ""
	req.History = append(req.History, entry)
	return req, nil
}

// Delete permanently removes a payment record.
func (e *Engine) Delete(ctx context.Context, requestID string) error {
	found, err := e.repo.Delete(ctx, requestID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if !found {
		return apperr.NotFound("payment record %s not found", requestID)
	}
	e.logger.Info("payment record deleted", "request_id", requestID)
	return nil
}

// BulkDelete hard-deletes up to BulkDeleteLimit records. Missing ids and
// per-record failures are reported, not returned as an error.
func (e *Engine) BulkDelete(ctx context.Context, requestIDs []string) (*BulkDeleteResult, error) {
	if len(requestIDs) == 0 {
		return nil, apperr.BadRequest("at least one request id is required")
	}
	if len(requestIDs) > e.cfg.BulkDeleteLimit {
		return nil, apperr.BadRequest("at most %d records can be deleted at once", e.cfg.BulkDeleteLimit)
	}

	res := &BulkDeleteResult{}
	seen := make(map[string]bool, len(requestIDs))
	for _, id := range requestIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		found, err := e.repo.Delete(ctx, id)
		if err != nil {
			e.logger.Warn("bulk delete item failed", "request_id", id, "error", err)
		}
		if err != nil || !found {
			res.FailedCount++
			res.FailedIDs = append(res.FailedIDs, id)
			continue
		}
		res.DeletedCount++
	}
	e.logger.Info("bulk delete finished", "deleted", res.DeletedCount, "failed", res.FailedCount)
	return res, nil
}
