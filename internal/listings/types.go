package listings

import "time"

// Listing is a renter's pre-market rental request as stored in the listings table.
type Listing struct {
	ListingID    string    `dynamodbav:"listing_id" json:"listing_id"` // PK
	Reference    string    `dynamodbav:"reference,omitempty" json:"reference,omitempty"`
	Title        string    `dynamodbav:"title,omitempty" json:"title,omitempty"`
	Neighborhood string    `dynamodbav:"neighborhood,omitempty" json:"neighborhood,omitempty"`
	Bedrooms     int       `dynamodbav:"bedrooms,omitempty" json:"bedrooms,omitempty"`
	MaxRentCents int64     `dynamodbav:"max_rent_cents,omitempty" json:"max_rent_cents,omitempty"`
	MoveInDate   string    `dynamodbav:"move_in_date,omitempty" json:"move_in_date,omitempty"`
	RenterID     string    `dynamodbav:"renter_id" json:"-"`
	IsActive     bool      `dynamodbav:"is_active" json:"is_active"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"created_at"`

	ViewedByGrantAccess []string `dynamodbav:"viewed_by_grant_access,omitempty,stringset" json:"-"`
	ViewedByNormal      []string `dynamodbav:"viewed_by_normal,omitempty,stringset" json:"-"`
}

// Activation is the minimal view needed to accept an access request.
type Activation struct {
	Exists   bool
	IsActive bool
}

// Viewer classes; they select which viewed-by set AddViewer writes to.
const (
	ViewerGrantAccess = "grant_access"
	ViewerNormal      = "normal"
)
