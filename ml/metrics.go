package ml

import "sort"

// TrainingMetrics summarize a fit.
type TrainingMetrics struct {
	AUC          float64            `json:"auc"`
	TrainSamples int                `json:"train_samples"`
	TestSamples  int                `json:"test_samples"`
	IVScores     map[string]float64 `json:"iv_scores,omitempty"`
}

// AUC computes the area under the ROC curve from rank sums, averaging ranks
// over tied scores. It returns 0.5 when only one class is present.
func AUC(scores []float64, labels []int) float64 {
	n := len(scores)
	if n == 0 || n != len(labels) {
		return 0.5
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, label := range labels {
		if label == 1 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
