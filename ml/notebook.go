package ml

import "math"

// NotebookBundle returns the hand-extracted research scorecard. Only four of
// its nine model features carry a WOE table; the rest always encode to 0.
// Its coefficients and tiers differ from any fitted bundle.
func NotebookBundle() *Bundle {
	inf := math.Inf(1)
	mappings := map[string]*FeatureMapping{
		"int_rate": notebookBins("int_rate",
			[]float64{-inf, 7.275, 9.995, 14.03, 18.58, inf},
			[]float64{1.8652, 1.0530, 0.2890, -0.3812, -0.9700},
		),
		"annual_inc": notebookBins("annual_inc",
			[]float64{-inf, 43202.0, 66100.5, 80046.219, 100129.0, inf},
			[]float64{-0.2922, -0.0839, 0.0909, 0.2157, 0.3962},
		),
		"purpose": NewCategoricalMapping("purpose", map[string]float64{
			"credit_card":        0.3129,
			"car":                0.1043,
			"debt_consolidation": -0.0432,
			"educational":        -1.2466,
			"home_improvement":   0.0,
			"other":              0.0,
		}, 0),
		"verification_status": NewCategoricalMapping("verification_status", map[string]float64{
			"Verified":        0.0,
			"Source Verified": 0.0,
			"Not Verified":    0.0,
		}, 0),
	}
	coefficients := map[string]float64{
		"int_rate_woe":              -0.9463,
		"total_rev_hi_lim_woe":      -0.2874,
		"tot_cur_bal_woe":           -0.7391,
		"annual_inc_woe":            -0.3650,
		"purpose_woe":               -0.3000,
		"loan_burden_woe":           -0.2106,
		"credit_history_length_woe": -0.3059,
		"revol_util_woe":            -0.2186,
		"verification_status_woe":   -0.3554,
	}
	return &Bundle{
		Version:    BundleVersion,
		Name:       "notebook_scorecard",
		RiskScheme: SchemeFourTier,
		Features: []string{
			"int_rate_woe",
			"total_rev_hi_lim_woe",
			"tot_cur_bal_woe",
			"annual_inc_woe",
			"purpose_woe",
			"loan_burden_woe",
			"credit_history_length_woe",
			"revol_util_woe",
			"verification_status_woe",
		},
		Mappings: mappings,
		Model:    LinearModel{Intercept: 0, Coefficients: coefficients},
		Scoring:  DefaultScoringParams(),
	}
}

func notebookBins(name string, edges, woe []float64) *FeatureMapping {
	byBin := make(map[int]float64, len(woe))
	for i, w := range woe {
		byBin[i] = w
	}
	return NewContinuousMapping(name, edges, byBin, 0)
}
