package risk

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"scorecard/ml"
)

func TestNormalize(t *testing.T) {
	schema := DefaultSchema()
	got := schema.Normalize(map[string]any{
		"annual_inc":          json.Number("49999"),
		"int_rate":            " 13.5 ",
		"revol_util":          "n/a",
		"tot_cur_bal":         nil,
		"purpose":             "  Debt_Consolidation ",
		"verification_status": "NOT VERIFIED",
		"open_acc":            "7",
	})

	checks := map[string]any{
		"annual_inc":            49999.0,
		"int_rate":              13.5,
		"revol_util":            0.0,
		"tot_cur_bal":           0.0,
		"credit_history_length": 0.0,
		"total_rev_hi_lim":      0.0,
		"purpose":               "debt_consolidation",
		"verification_status":   "Not Verified",
		"open_acc":              7.0,
		"loan_burden":           0.3,
	}
	for key, want := range checks {
		if got[key] != want {
			t.Fatalf("%s = %#v, want %#v", key, got[key], want)
		}
	}
}

func TestNormalizeMissingCategorical(t *testing.T) {
	got := DefaultSchema().Normalize(map[string]any{})
	if got["purpose"] != "" || got["verification_status"] != "" {
		t.Fatalf("expected empty categorical defaults, got %#v", got)
	}
}

func TestLoanBurdenDerivation(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want float64
	}{
		{"default amount", map[string]any{"annual_inc": 29999.0}, 0.5},
		{"given amount", map[string]any{"annual_inc": 49999.0, "loan_amount": 10000.0}, 0.2},
		{"null burden derived", map[string]any{"annual_inc": 49999.0, "loan_amount": 10000.0, "loan_burden": nil}, 0.2},
		{"provided burden kept", map[string]any{"annual_inc": 49999.0, "loan_burden": 0.9}, 0.9},
		{"no income", map[string]any{}, 15000.0},
		{"division by zero", map[string]any{"annual_inc": -1.0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultSchema().Normalize(tt.raw)["loan_burden"].(float64)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("loan_burden = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantOK  bool
		wantMsg string
	}{
		{"valid", func(map[string]any) {}, true, ""},
		{"missing income", func(m map[string]any) { delete(m, "annual_inc") }, false, "annual_inc is required"},
		{"zero income", func(m map[string]any) { m["annual_inc"] = 0 }, false, "annual_inc must be positive"},
		{"huge income", func(m map[string]any) { m["annual_inc"] = 20_000_000 }, false, "unreasonably high"},
		{"rate too high", func(m map[string]any) { m["int_rate"] = 51 }, false, "int_rate must be between"},
		{"rate not numeric", func(m map[string]any) { m["int_rate"] = "high" }, false, "int_rate must be a number"},
		{"negative history", func(m map[string]any) { m["credit_history_length"] = -1 }, false, "cannot be negative"},
		{"century history", func(m map[string]any) { m["credit_history_length"] = 101 }, false, "credit_history_length seems"},
		{"revol util", func(m map[string]any) { m["revol_util"] = 120 }, false, "revol_util must be between"},
		{"negative balance", func(m map[string]any) { m["tot_cur_bal"] = -5 }, false, "tot_cur_bal cannot be negative"},
		{"zero loan", func(m map[string]any) { m["loan_amount"] = 0 }, false, "loan_amount must be positive"},
		{"unknown purpose", func(m map[string]any) { m["purpose"] = "vacation" }, false, "purpose \"vacation\""},
		{"missing purpose", func(m map[string]any) { delete(m, "purpose") }, false, "purpose is required"},
		{"purpose case", func(m map[string]any) { m["purpose"] = "CAR" }, true, ""},
		{"bad verification", func(m map[string]any) { m["verification_status"] = "maybe" }, false, "verification_status"},
		{"optional absent", func(m map[string]any) { delete(m, "revol_util"); delete(m, "verification_status") }, true, ""},
		{"optional null", func(m map[string]any) { m["loan_amount"] = nil }, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := sampleApplication()
			tt.mutate(app)
			ok, problems := DefaultSchema().Validate(app)
			if ok != tt.wantOK {
				t.Fatalf("Validate() = %v %v, want ok=%v", ok, problems, tt.wantOK)
			}
			if tt.wantMsg != "" && !strings.Contains(strings.Join(problems, "; "), tt.wantMsg) {
				t.Fatalf("expected %q in %v", tt.wantMsg, problems)
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	ok, problems := DefaultSchema().Validate(map[string]any{})
	if ok {
		t.Fatal("expected invalid")
	}
	if len(problems) != 3 {
		t.Fatalf("expected 3 required-field problems, got %v", problems)
	}
}

func TestWithMappings(t *testing.T) {
	schema := DefaultSchema().WithMappings(map[string]*ml.FeatureMapping{
		"purpose":        ml.NewCategoricalMapping("purpose", map[string]float64{"car": 0.1}, 0.1),
		"home_ownership": ml.NewCategoricalMapping("home_ownership", map[string]float64{"RENT": -0.5}, 0.1),
		"open_acc":       ml.NewContinuousMapping("open_acc", []float64{math.Inf(-1), math.Inf(1)}, map[int]float64{0: 0}, 0),
	})
	if len(schema.Fields) != len(DefaultSchema().Fields)+2 {
		t.Fatalf("unexpected fields %v", schema.Names())
	}

	got := schema.Normalize(map[string]any{"home_ownership": " RENT ", "purpose": "CAR", "open_acc": "3"})
	if got["home_ownership"] != "RENT" || got["purpose"] != "car" || got["open_acc"] != 3.0 {
		t.Fatalf("unexpected normalization %#v", got)
	}

	got = schema.Normalize(map[string]any{})
	if _, ok := got["home_ownership"]; ok {
		t.Fatal("fitted categorical should not be filled")
	}
	if _, ok := got["open_acc"]; ok {
		t.Fatal("fitted numeric should not be filled")
	}
}
