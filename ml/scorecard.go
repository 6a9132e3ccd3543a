package ml

import (
	"errors"
	"fmt"
	"math"
)

// ScoringParams parameterize the log-odds to score transform.
type ScoringParams struct {
	PDO       float64 `json:"PDO" yaml:"pdo"`
	BaseScore float64 `json:"BaseScore" yaml:"base_score"`
	BaseOdds  float64 `json:"BaseOdds" yaml:"base_odds"`
}

// DefaultScoringParams are the values the scorecard was calibrated with.
func DefaultScoringParams() ScoringParams {
	return ScoringParams{PDO: 20, BaseScore: 600, BaseOdds: 50}
}

// Factor is the number of points per unit of log-odds.
func (p ScoringParams) Factor() float64 {
	return p.PDO / math.Ln2
}

// Offset is the score at zero log-odds.
func (p ScoringParams) Offset() float64 {
	return p.BaseScore - p.Factor()*math.Log(p.BaseOdds)
}

func (p ScoringParams) Validate() error {
	if !isFinite(p.PDO) || p.PDO <= 0 {
		return fmt.Errorf("PDO must be positive, got %v", p.PDO)
	}
	if !isFinite(p.BaseOdds) || p.BaseOdds <= 0 {
		return fmt.Errorf("BaseOdds must be positive, got %v", p.BaseOdds)
	}
	if !isFinite(p.BaseScore) {
		return errors.New("BaseScore must be finite")
	}
	return nil
}

// Score maps log-odds to a credit score and a default probability.
func (p ScoringParams) Score(logOdds float64) (score, probability float64) {
	return Score(logOdds, p.PDO, p.BaseScore, p.BaseOdds)
}

// Score applies the points-to-double-the-odds formula. The probability is the
// logistic of logOdds, computed independently of the score.
func Score(logOdds, pdo, baseScore, baseOdds float64) (score, probability float64) {
	factor := pdo / math.Ln2
	offset := baseScore - factor*math.Log(baseOdds)
	score = offset - factor*logOdds
	probability = Logistic(logOdds)
	return score, probability
}

// Logistic is 1/(1+e^-x) without overflowing for large |x|.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
