// Package listingview serves listing detail to agents, revealing renter
// contact only when the grant-access policy allows it.
package listingview

import (
	"context"
	"fmt"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/directory"
	"github.com/imrishuroy/grant-access/internal/listings"
)

// AccessResolver is the policy check; *access.Engine satisfies it.
type AccessResolver interface {
	ResolveViewerAccess(ctx context.Context, agentID, listingID string) (access.ViewerAccess, error)
}

// Listings reads listing records.
type Listings interface {
	Get(ctx context.Context, listingID string) (*listings.Listing, error)
}

// Users resolves the renter behind a listing.
type Users interface {
	GetUser(ctx context.Context, userID string) (*directory.User, error)
}

// RenterContact is the detail gated behind grant access.
type RenterContact struct {
	RenterID string `json:"renter_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// Detail is what an agent sees for a listing they may view.
type Detail struct {
	Listing listings.Listing    `json:"listing"`
	Renter  *RenterContact      `json:"renter,omitempty"`
	Access  access.ViewerAccess `json:"access"`
}

// Service combines the policy check with the listing and renter reads.
type Service struct {
	resolver AccessResolver
	listings Listings
	users    Users
}

func NewService(resolver AccessResolver, l Listings, users Users) *Service {
	return &Service{resolver: resolver, listings: l, users: users}
}

// Detail returns the listing with renter contact. The policy is evaluated
// on every call; a denial is returned as the resolver's Forbidden error.
func (s *Service) Detail(ctx context.Context, agentID, listingID string) (*Detail, error) {
	va, err := s.resolver.ResolveViewerAccess(ctx, agentID, listingID)
	if err != nil {
		return nil, err
	}

	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, apperr.NotFound("listing %s not found", listingID)
	}

	d := &Detail{Listing: *l, Access: va}
	if l.RenterID == "" {
		return d, nil
	}
	u, err := s.users.GetUser(ctx, l.RenterID)
	if err != nil {
		return nil, fmt.Errorf("get renter: %w", err)
	}
	if u != nil {
		d.Renter = &RenterContact{RenterID: u.UserID, Name: u.Name, Email: u.Email, Phone: u.Phone}
	}
	return d, nil
}
