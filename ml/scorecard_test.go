package ml

import (
	"math"
	"testing"
)

func TestScoreRoundTrip(t *testing.T) {
	score, probability := Score(0, 20, 600, 50)
	want := 600 - (20/math.Ln2)*math.Log(50)
	if score != want {
		t.Fatalf("expected %v, got %v", want, score)
	}
	if math.Abs(score-487.123) > 0.01 {
		t.Fatalf("expected offset near 487.12, got %v", score)
	}
	if probability != 0.5 {
		t.Fatalf("expected probability 0.5, got %v", probability)
	}
}

func TestScoreMonotonic(t *testing.T) {
	params := DefaultScoringParams()
	prevScore, prevProb := params.Score(-10)
	for x := -9.5; x <= 10; x += 0.5 {
		score, prob := params.Score(x)
		if !(score < prevScore) {
			t.Fatalf("score not decreasing at %v: %v >= %v", x, score, prevScore)
		}
		if !(prob > prevProb) {
			t.Fatalf("probability not increasing at %v: %v <= %v", x, prob, prevProb)
		}
		prevScore, prevProb = score, prob
	}
}

func TestEndToEndSingleFeature(t *testing.T) {
	model := LinearModel{Coefficients: map[string]float64{"int_rate_woe": -0.9463}}
	woe, ok := NotebookBundle().Mappings["int_rate"].Encode(5.0)
	if !ok || woe != 1.8652 {
		t.Fatalf("unexpected woe %v", woe)
	}
	logOdds, err := model.LogOdds(map[string]float64{"int_rate_woe": woe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(logOdds+1.7650) > 0.001 {
		t.Fatalf("expected log odds near -1.765, got %v", logOdds)
	}
	params := DefaultScoringParams()
	if math.Abs(params.Factor()-28.854) > 0.001 {
		t.Fatalf("unexpected factor %v", params.Factor())
	}
	score, probability := params.Score(logOdds)
	if math.Abs(score-538.05) > 0.1 {
		t.Fatalf("expected score near 538.05, got %v", score)
	}
	if math.Abs(probability-0.146) > 0.001 {
		t.Fatalf("expected probability near 0.146, got %v", probability)
	}
}

func TestLogisticStable(t *testing.T) {
	for _, x := range []float64{-1000, -50, 0, 50, 1000} {
		p := Logistic(x)
		if math.IsNaN(p) || p < 0 || p > 1 {
			t.Fatalf("Logistic(%v) = %v", x, p)
		}
	}
	if Logistic(-1000) != 0 || Logistic(1000) != 1 {
		t.Fatal("expected saturation at the extremes")
	}
}

func TestScoringParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  ScoringParams
		wantErr bool
	}{
		{"default", DefaultScoringParams(), false},
		{"zero pdo", ScoringParams{PDO: 0, BaseScore: 600, BaseOdds: 50}, true},
		{"negative odds", ScoringParams{PDO: 20, BaseScore: 600, BaseOdds: -1}, true},
		{"nan score", ScoringParams{PDO: 20, BaseScore: math.NaN(), BaseOdds: 50}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFourTierOrdering(t *testing.T) {
	cases := map[float64]string{
		750: "Low Risk",
		700: "Low Risk",
		650: "Medium Risk",
		550: "High Risk",
		450: "Very High Risk",
	}
	for score, want := range cases {
		if got := FourTierScheme.Classify(score); got != want {
			t.Fatalf("Classify(%v) = %q, want %q", score, got, want)
		}
	}
}

func TestAgencyScheme(t *testing.T) {
	cases := map[float64]string{
		800: "AAA", 749.99: "AA", 650: "A", 600: "BBB", 575: "BB",
		500: "B", 451: "CCC", 400: "CC", 350: "C", 349.9: "D",
	}
	for score, want := range cases {
		if got := AgencyScheme.Classify(score); got != want {
			t.Fatalf("Classify(%v) = %q, want %q", score, got, want)
		}
	}
	if len(AgencyScheme.Labels()) != 10 {
		t.Fatalf("expected 10 agency labels, got %v", AgencyScheme.Labels())
	}
}

func TestSchemeByName(t *testing.T) {
	if s, err := SchemeByName("four_tier"); err != nil || s.Name != SchemeFourTier {
		t.Fatalf("unexpected scheme %v %v", s, err)
	}
	if s, err := SchemeByName("agency"); err != nil || s.Name != SchemeAgency {
		t.Fatalf("unexpected scheme %v %v", s, err)
	}
	if _, err := SchemeByName("ten_tier"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
