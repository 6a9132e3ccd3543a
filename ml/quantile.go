package ml

import (
	"math"
	"sort"
)

// QuantileBins splits values at maxBins+1 evenly spaced quantiles. The outer
// edges are replaced by -Inf and +Inf and repeated edges are collapsed.
func QuantileBins(values []float64, maxBins int) []float64 {
	if maxBins < 1 {
		maxBins = 1
	}
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sorted = append(sorted, v)
	}
	if len(sorted) == 0 {
		return unboundedEdges()
	}
	sort.Float64s(sorted)
	if sorted[0] == sorted[len(sorted)-1] {
		return unboundedEdges()
	}

	edges := make([]float64, 0, maxBins+1)
	for i := 0; i <= maxBins; i++ {
		edges = append(edges, quantile(sorted, float64(i)/float64(maxBins)))
	}
	edges[0] = math.Inf(-1)
	edges[len(edges)-1] = math.Inf(1)
	return dedupeEdges(edges)
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func dedupeEdges(edges []float64) []float64 {
	out := edges[:1]
	for _, e := range edges[1:] {
		if e > out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}

func unboundedEdges() []float64 {
	return []float64{math.Inf(-1), math.Inf(1)}
}
