package ml

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

const woeEpsilon = 1e-6

// ErrWOEFit is returned when WOE cannot be computed for a feature.
var ErrWOEFit = errors.New("woe fit failed")

type woeGroup struct {
	total int
	bad   int
}

// ComputeWOE groups labels by key and returns the weight of evidence of each
// group and the information value of the whole feature. Degenerate inputs
// yield an empty map, IV 0 and an error wrapping ErrWOEFit.
func ComputeWOE[K cmp.Ordered](keys []K, labels []int) (map[K]float64, float64, error) {
	if len(keys) == 0 {
		return map[K]float64{}, 0, fmt.Errorf("%w: no observations", ErrWOEFit)
	}
	if len(keys) != len(labels) {
		return map[K]float64{}, 0, fmt.Errorf("%w: %d keys for %d labels", ErrWOEFit, len(keys), len(labels))
	}

	groups := make(map[K]*woeGroup)
	totalBad, totalGood := 0, 0
	for i, key := range keys {
		label := labels[i]
		if label != 0 && label != 1 {
			return map[K]float64{}, 0, fmt.Errorf("%w: label %d is not binary", ErrWOEFit, label)
		}
		g, ok := groups[key]
		if !ok {
			g = &woeGroup{}
			groups[key] = g
		}
		g.total++
		g.bad += label
		totalBad += label
		totalGood += 1 - label
	}
	if totalBad == 0 || totalGood == 0 {
		return map[K]float64{}, 0, fmt.Errorf("%w: target has a single class", ErrWOEFit)
	}

	ordered := make([]K, 0, len(groups))
	for key := range groups {
		ordered = append(ordered, key)
	}
	slices.Sort(ordered)

	woe := make(map[K]float64, len(groups))
	iv := 0.0
	for _, key := range ordered {
		g := groups[key]
		distGood := float64(g.total-g.bad) / float64(totalGood)
		distBad := float64(g.bad) / float64(totalBad)
		w := math.Log((distGood + woeEpsilon) / (distBad + woeEpsilon))
		woe[key] = w
		iv += (distGood - distBad) * w
	}
	return woe, iv, nil
}
