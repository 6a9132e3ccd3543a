package ml

import (
	"math"

	"go.uber.org/zap"
)

// DefaultMaxBins matches the leaf budget used by the training script.
const DefaultMaxBins = 5

// Binner partitions a continuous feature into contiguous intervals. It tries a
// supervised tree first and falls back to quantiles when the tree cannot be fit.
type Binner struct {
	MaxBins         int
	MinLeafFraction float64
	Logger          *zap.Logger
}

// Fit returns bin edges starting at -Inf and ending at +Inf.
func (b Binner) Fit(feature string, values []float64, labels []int) []float64 {
	maxBins := b.MaxBins
	if maxBins < 2 {
		maxBins = 2
	}
	edges, err := SupervisedBins(values, labels, maxBins, b.MinLeafFraction)
	if err == nil {
		return edges
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("supervised binning failed, using quantiles",
		zap.String("feature", feature),
		zap.Int("max_bins", maxBins),
		zap.Error(err),
	)
	return QuantileBins(values, maxBins)
}

// SupervisedBins grows a tree with at most maxBins leaves and returns its
// split points wrapped in infinite outer edges.
func SupervisedBins(values []float64, labels []int, maxBins int, minLeafFraction float64) ([]float64, error) {
	tree := NewDecisionTree(maxBins)
	if minLeafFraction > 0 {
		tree.MinLeafFraction = minLeafFraction
	}
	if err := tree.Train(values, labels); err != nil {
		return nil, err
	}
	interior := tree.Thresholds()
	edges := make([]float64, 0, len(interior)+2)
	edges = append(edges, math.Inf(-1))
	edges = append(edges, interior...)
	edges = append(edges, math.Inf(1))
	return dedupeEdges(edges), nil
}
