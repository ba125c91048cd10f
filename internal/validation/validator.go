package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// charge decisions need a positive amount in whole cents; the other
	// actions must not carry one.
	v.RegisterStructValidation(decisionStructValidation, DecisionRequest{})

	return v
}

func decisionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(DecisionRequest)

	if req.Action != "charge" {
		if req.ChargeAmount != 0 {
			sl.ReportError(req.ChargeAmount, "charge_amount", "ChargeAmount", "charge_only", "")
		}
		return
	}
	if req.ChargeAmount <= 0 {
		sl.ReportError(req.ChargeAmount, "charge_amount", "ChargeAmount", "required_for_charge", "")
		return
	}
	cents := req.ChargeAmount * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		sl.ReportError(req.ChargeAmount, "charge_amount", "ChargeAmount", "cents_precision",
			fmt.Sprintf("%.4f has more than two decimals", req.ChargeAmount))
	}
}
