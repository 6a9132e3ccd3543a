package ml

import "fmt"

// RiskLevelError is reported for predictions that could not be scored.
const RiskLevelError = "Error"

const (
	SchemeFourTier = "four_tier"
	SchemeAgency   = "agency"
)

// Tier is the lowest score that earns Label.
type Tier struct {
	Min   float64
	Label string
}

// RiskScheme is a descending step function from score to risk label.
type RiskScheme struct {
	Name  string
	Tiers []Tier
	Floor string
}

// Classify returns the first tier whose minimum the score reaches.
func (s RiskScheme) Classify(score float64) string {
	for _, tier := range s.Tiers {
		if score >= tier.Min {
			return tier.Label
		}
	}
	return s.Floor
}

func (s RiskScheme) Labels() []string {
	labels := make([]string, 0, len(s.Tiers)+1)
	for _, tier := range s.Tiers {
		labels = append(labels, tier.Label)
	}
	return append(labels, s.Floor)
}

// FourTierScheme is used by the hand-built notebook scorecard.
var FourTierScheme = RiskScheme{
	Name: SchemeFourTier,
	Tiers: []Tier{
		{Min: 700, Label: "Low Risk"},
		{Min: 600, Label: "Medium Risk"},
		{Min: 500, Label: "High Risk"},
	},
	Floor: "Very High Risk",
}

// AgencyScheme mirrors the rating-agency letter grades used by fitted bundles.
var AgencyScheme = RiskScheme{
	Name: SchemeAgency,
	Tiers: []Tier{
		{Min: 750, Label: "AAA"},
		{Min: 700, Label: "AA"},
		{Min: 650, Label: "A"},
		{Min: 600, Label: "BBB"},
		{Min: 550, Label: "BB"},
		{Min: 500, Label: "B"},
		{Min: 450, Label: "CCC"},
		{Min: 400, Label: "CC"},
		{Min: 350, Label: "C"},
	},
	Floor: "D",
}

// SchemeByName resolves a configured scheme name.
func SchemeByName(name string) (RiskScheme, error) {
	switch name {
	case SchemeFourTier:
		return FourTierScheme, nil
	case SchemeAgency:
		return AgencyScheme, nil
	}
	return RiskScheme{}, fmt.Errorf("unknown risk scheme %q", name)
}
