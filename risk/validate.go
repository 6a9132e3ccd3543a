package risk

import (
	"fmt"
	"math"
	"slices"

	"scorecard/ml"
)

// Purposes accepted by Validate.
var Purposes = []string{"credit_card", "debt_consolidation", "home_improvement", "car", "educational", "other"}

// VerificationStatuses accepted by Validate.
var VerificationStatuses = []string{"Verified", "Source Verified", "Not Verified"}

const maxAnnualIncome = 10_000_000

type numericRule struct {
	field    string
	required bool
	check    func(v float64) string
}

var numericRules = []numericRule{
	{field: "annual_inc", required: true, check: func(v float64) string {
		if v <= 0 {
			return "annual_inc must be positive"
		}
		if v > maxAnnualIncome {
			return "annual_inc seems unreasonably high"
		}
		return ""
	}},
	{field: "int_rate", required: true, check: func(v float64) string {
		if v < 0 || v > 50 {
			return "int_rate must be between 0 and 50 percent"
		}
		return ""
	}},
	{field: "credit_history_length", check: func(v float64) string {
		if v < 0 {
			return "credit_history_length cannot be negative"
		}
		if v > 100 {
			return "credit_history_length seems unreasonably high"
		}
		return ""
	}},
	{field: "revol_util", check: func(v float64) string {
		if v < 0 || v > 100 {
			return "revol_util must be between 0 and 100 percent"
		}
		return ""
	}},
	{field: "total_rev_hi_lim", check: nonNegative("total_rev_hi_lim")},
	{field: "tot_cur_bal", check: nonNegative("tot_cur_bal")},
	{field: "loan_burden", check: nonNegative("loan_burden")},
	{field: "loan_amount", check: func(v float64) string {
		if v <= 0 {
			return "loan_amount must be positive"
		}
		return ""
	}},
}

func nonNegative(field string) func(float64) string {
	return func(v float64) string {
		if v < 0 {
			return field + " cannot be negative"
		}
		return ""
	}
}

// Validate reports every problem with an application. It never fails: the
// result is data so batch callers can continue past bad records.
func (s Schema) Validate(raw map[string]any) (bool, []string) {
	var problems []string
	for _, rule := range numericRules {
		if !supplied(raw, rule.field) {
			if rule.required {
				problems = append(problems, fmt.Sprintf("%s is required", rule.field))
			}
			continue
		}
		v, ok := asNumber(raw[rule.field])
		if !ok {
			problems = append(problems, fmt.Sprintf("%s must be a number", rule.field))
			continue
		}
		if msg := rule.check(v); msg != "" {
			problems = append(problems, msg)
		}
	}

	if !supplied(raw, "purpose") {
		problems = append(problems, "purpose is required")
	} else if p := s.categorical("purpose", raw["purpose"]); !slices.Contains(Purposes, p) {
		problems = append(problems, fmt.Sprintf("purpose %q is not one of %v", p, Purposes))
	}
	if supplied(raw, "verification_status") {
		if v := s.categorical("verification_status", raw["verification_status"]); !slices.Contains(VerificationStatuses, v) {
			problems = append(problems, fmt.Sprintf("verification_status %q is not one of %v", v, VerificationStatuses))
		}
	}
	return len(problems) == 0, problems
}

func (s Schema) categorical(name string, value any) string {
	f, ok := s.field(name)
	if !ok {
		f = Field{Name: name, Kind: Categorical}
	}
	v, _ := normalizeValue(f, value).(string)
	return v
}

func asNumber(value any) (float64, bool) {
	if _, isBool := value.(bool); isBool {
		return 0, false
	}
	v, ok := ml.AsFloat(value)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
