// Package risk scores loan applications with a frozen scorecard bundle.
package risk

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scorecard/ml"
)

// FieldKind says how a raw input field is coerced.
type FieldKind int

const (
	Numeric FieldKind = iota
	Categorical
)

// CaseRule normalizes the case of a categorical value.
type CaseRule int

const (
	CaseKeep CaseRule = iota
	CaseLower
	CaseTitle
)

// Field is one known input field. Required fields are never filled, so a
// missing value surfaces as a missing feature.
type Field struct {
	Name     string
	Kind     FieldKind
	Case     CaseRule
	Required bool
}

// Schema lists the fields an application may carry. Known fields missing
// from an input are filled with their neutral value.
type Schema struct {
	Fields []Field
}

const (
	loanBurdenField   = "loan_burden"
	loanAmountField   = "loan_amount"
	annualIncomeField = "annual_inc"
	defaultLoanAmount = 15000.0
)

// DefaultSchema is the loan application form.
func DefaultSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "annual_inc", Kind: Numeric},
		{Name: "int_rate", Kind: Numeric},
		{Name: "credit_history_length", Kind: Numeric},
		{Name: "total_rev_hi_lim", Kind: Numeric},
		{Name: "tot_cur_bal", Kind: Numeric},
		{Name: "revol_util", Kind: Numeric},
		{Name: "loan_amount", Kind: Numeric},
		{Name: "loan_burden", Kind: Numeric},
		{Name: "purpose", Kind: Categorical, Case: CaseLower},
		{Name: "verification_status", Kind: Categorical, Case: CaseTitle},
	}}
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// WithMappings returns s extended with a required field for every mapping it
// does not list. Added categorical fields keep the case seen in training.
func (s Schema) WithMappings(mappings map[string]*ml.FeatureMapping) Schema {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		if _, ok := s.field(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(s.Fields)+len(names))
	fields = append(fields, s.Fields...)
	for _, name := range names {
		f := Field{Name: name, Kind: Numeric, Required: true}
		if mappings[name].Kind == ml.KindCategorical {
			f.Kind = Categorical
			f.Case = CaseKeep
		}
		fields = append(fields, f)
	}
	return Schema{Fields: fields}
}

// Names returns the field names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Normalize coerces raw into float64 and string values. Optional fields that
// are missing, null or empty become 0 or "". Unknown keys are kept and coerced
// to numbers. loan_burden is derived when it was not supplied.
func (s Schema) Normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+len(s.Fields))
	for key, value := range raw {
		f, ok := s.field(key)
		if !ok {
			f = Field{Name: key, Kind: Numeric}
		}
		out[key] = normalizeValue(f, value)
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; ok || f.Required {
			continue
		}
		if f.Kind == Categorical {
			out[f.Name] = ""
		} else {
			out[f.Name] = 0.0
		}
	}
	if _, known := s.field(loanBurdenField); known && !supplied(raw, loanBurdenField) {
		out[loanBurdenField] = deriveLoanBurden(raw)
	}
	return out
}

func normalizeValue(f Field, value any) any {
	if f.Kind == Categorical {
		s := strings.TrimSpace(ml.AsKey(value))
		switch f.Case {
		case CaseLower:
			return cases.Lower(language.Und).String(s)
		case CaseTitle:
			return cases.Title(language.English).String(s)
		}
		return s
	}
	v, ok := ml.AsFloat(value)
	if !ok {
		return 0.0
	}
	return v
}

func supplied(raw map[string]any, key string) bool {
	v, ok := raw[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// deriveLoanBurden estimates loan_amount/(annual_inc+1), using the default
// loan amount when none was given.
func deriveLoanBurden(raw map[string]any) float64 {
	amount := defaultLoanAmount
	if supplied(raw, loanAmountField) {
		if v, ok := ml.AsFloat(raw[loanAmountField]); ok {
			amount = v
		}
	}
	income, _ := ml.AsFloat(raw[annualIncomeField])
	burden := amount / (income + 1)
	if math.IsNaN(burden) || math.IsInf(burden, 0) {
		return 0
	}
	return burden
}
