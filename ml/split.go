package ml

import (
	"math"
	"math/rand"
	"sort"
)

// stratifiedSplit returns row indices for train and test so each class keeps
// its share in both parts. The same seed yields the same split.
func stratifiedSplit(labels []int, testRatio float64, seed int64) (train, test []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.3
	}
	byClass := map[int][]int{}
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, class := range classes {
		rows := byClass[class]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nTest := int(math.Round(float64(len(rows)) * testRatio))
		if nTest >= len(rows) && len(rows) > 1 {
			nTest = len(rows) - 1
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}
