package validation

import "math"

// DecisionRequest is the payload for POST /admin/access/:requestId/decision
type DecisionRequest struct {
	Action       string  `json:"action" validate:"required,oneof=approve charge reject"`
	ChargeAmount float64 `json:"charge_amount,omitempty" validate:"gte=0,lte=999999.99"` // major units, e.g. 25.00
	Notes        string  `json:"notes,omitempty" validate:"max=1000"`
}

// ChargeAmountCents converts ChargeAmount to minor units.
func (r DecisionRequest) ChargeAmountCents() int64 {
	return int64(math.Round(r.ChargeAmount * 100))
}

// RecordActionRequest is the optional payload for soft-delete and restore.
type RecordActionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// MaxChargeAmount is the largest charge the gateway accepts, in major units.
const MaxChargeAmount = 999999.99

// BulkDeleteRequest is the payload for POST /admin/payments/bulk-delete.
// The batch cap is BULK_DELETE_LIMIT, enforced by the engine.
type BulkDeleteRequest struct {
	RequestIDs []string `json:"request_ids" validate:"required,min=1,dive,required"`
}

// ListPaymentsQuery holds the filters for GET /admin/payments
type ListPaymentsQuery struct {
	PaymentStatus  string `form:"payment_status" validate:"omitempty,oneof=pending succeeded failed"`
	AccessStatus   string `form:"access_status" validate:"omitempty,oneof=pending approved free paid rejected"`
	Page           int    `form:"page" validate:"omitempty,min=1"`
	Limit          int    `form:"limit" validate:"omitempty,min=1,max=100"`
	IncludeDeleted bool   `form:"include_deleted"`
}
