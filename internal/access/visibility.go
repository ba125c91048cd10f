package access

import (
	"context"
	"fmt"

	"github.com/imrishuroy/grant-access/internal/apperr"
)

// ResolveViewerAccess decides whether agentID may see listingID's renter
// details. It reads current state on every call and records the view in
// the listing's viewed-by set on success.
func (e *Engine) ResolveViewerAccess(ctx context.Context, agentID, listingID string) (ViewerAccess, error) {
	if agentID == "" || listingID == "" {
		return ViewerAccess{}, apperr.BadRequest("agent id and listing id are required")
	}

	act, err := e.listings.GetActivation(ctx, listingID)
	if err != nil {
		return ViewerAccess{}, fmt.Errorf("get listing activation: %w", err)
	}
	if !act.Exists {
		return ViewerAccess{}, apperr.NotFound("listing %s not found", listingID)
	}

	profile, err := e.directory.GetAgentProfile(ctx, agentID)
	if err != nil {
		return ViewerAccess{}, fmt.Errorf("get agent profile: %w", err)
	}
	if profile == nil {
		return ViewerAccess{}, apperr.Forbidden("user %s is not an agent", agentID)
	}

	if profile.HasGrantAccess {
		if !act.IsActive {
			return ViewerAccess{}, apperr.Forbidden("listing %s is not active", listingID)
		}
		e.bestEffort(ctx, "add viewer", "", func(ctx context.Context) error {
			return e.listings.AddViewer(ctx, listingID, agentID, ViewerGrantAccess)
		})
		return ViewerAccess{Allowed: true, AccessKind: AccessKindGrantAgent}, nil
	}

	req, err := e.repo.GetByPair(ctx, listingID, agentID)
	if err != nil {
		return ViewerAccess{}, fmt.Errorf("get access request: %w", err)
	}
	if req == nil {
		return ViewerAccess{}, apperr.Forbidden("request access to listing %s to view renter details", listingID)
	}
	if !req.IsGranted() {
		return ViewerAccess{}, deniedError(req)
	}

	e.bestEffort(ctx, "add viewer", req.RequestID, func(ctx context.Context) error {
		return e.listings.AddViewer(ctx, listingID, agentID, ViewerNormal)
	})
	kind := AccessKindApproved
	if req.Status == StatusPaid {
		kind = AccessKindPaid
	}
	return ViewerAccess{Allowed: true, AccessKind: kind, RequestID: req.RequestID}, nil
}

func deniedError(req *AccessRequest) error {
	switch {
	case req.Status == StatusRejected:
		return apperr.Forbidden("access to listing %s was rejected", req.ListingID)
	case req.AwaitingPayment():
		return apperr.Forbidden("complete payment for listing %s to view renter details", req.ListingID)
	default:
		return apperr.Forbidden("access request for listing %s is awaiting admin review", req.ListingID)
	}
}
