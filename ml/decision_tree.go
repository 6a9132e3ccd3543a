package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// leafThreshold is the split value stored on leaf nodes.
const leafThreshold = -2

// DefaultMinLeafFraction is the smallest share of samples a leaf may hold.
const DefaultMinLeafFraction = 0.05

// ErrDegenerateInput is returned when a tree cannot be grown from the data.
var ErrDegenerateInput = errors.New("degenerate binning input")

// DecisionTree is a single-feature classification tree grown best-first on
// information gain. Its internal split points become bin boundaries.
type DecisionTree struct {
	MaxLeaves       int
	MinLeafFraction float64

	nodes []TreeNode
}

type TreeNode struct {
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Samples    int     `json:"samples"`
	Bad        int     `json:"bad"`
	IsLeaf     bool    `json:"is_leaf"`
}

// NewDecisionTree returns a tree limited to maxLeaves leaves.
func NewDecisionTree(maxLeaves int) *DecisionTree {
	return &DecisionTree{MaxLeaves: maxLeaves, MinLeafFraction: DefaultMinLeafFraction}
}

type frontier struct {
	node        int
	start, end  int
	split       int
	threshold   float64
	improvement float64
	splittable  bool
}

func (dt *DecisionTree) Train(values []float64, labels []int) error {
	if len(values) == 0 || len(labels) == 0 {
		return fmt.Errorf("%w: values or labels empty", ErrDegenerateInput)
	}
	if len(values) != len(labels) {
		return fmt.Errorf("%w: values and labels size mismatch", ErrDegenerateInput)
	}
	maxLeaves := dt.MaxLeaves
	if maxLeaves < 2 {
		maxLeaves = 2
	}
	fraction := dt.MinLeafFraction
	if fraction <= 0 || fraction >= 0.5 {
		fraction = DefaultMinLeafFraction
	}

	xs, ys := sortedSamples(values, labels)
	if len(xs) == 0 {
		return fmt.Errorf("%w: no finite values", ErrDegenerateInput)
	}
	for _, y := range ys {
		if y != 0 && y != 1 {
			return fmt.Errorf("%w: labels must be 0 or 1", ErrDegenerateInput)
		}
	}
	if isPure(ys) {
		return fmt.Errorf("%w: single class target", ErrDegenerateInput)
	}
	if xs[0] == xs[len(xs)-1] {
		return fmt.Errorf("%w: single distinct value", ErrDegenerateInput)
	}

	prefixBad := make([]int, len(ys)+1)
	for i, y := range ys {
		prefixBad[i+1] = prefixBad[i] + y
	}
	minLeaf := int(math.Ceil(fraction * float64(len(xs))))
	if minLeaf < 1 {
		minLeaf = 1
	}

	dt.nodes = []TreeNode{newLeaf(len(xs), prefixBad[len(xs)])}
	leaves := []frontier{findBestSplit(xs, prefixBad, 0, 0, len(xs), minLeaf)}

	for len(dt.nodes) < 2*maxLeaves-1 {
		best := -1
		for i, leaf := range leaves {
			if !leaf.splittable {
				continue
			}
			if best == -1 || leaf.improvement > leaves[best].improvement {
				best = i
			}
		}
		if best == -1 {
			break
		}

		leaf := leaves[best]
		left := len(dt.nodes)
		right := left + 1
		dt.nodes = append(dt.nodes,
			newLeaf(leaf.split-leaf.start, prefixBad[leaf.split]-prefixBad[leaf.start]),
			newLeaf(leaf.end-leaf.split, prefixBad[leaf.end]-prefixBad[leaf.split]),
		)
		parent := &dt.nodes[leaf.node]
		parent.IsLeaf = false
		parent.Threshold = leaf.threshold
		parent.LeftChild = left
		parent.RightChild = right

		leaves[best] = findBestSplit(xs, prefixBad, left, leaf.start, leaf.split, minLeaf)
		leaves = append(leaves, findBestSplit(xs, prefixBad, right, leaf.split, leaf.end, minLeaf))
	}
	return nil
}

// Thresholds returns the split points of internal nodes in ascending order.
func (dt *DecisionTree) Thresholds() []float64 {
	thresholds := make([]float64, 0, len(dt.nodes)/2)
	for _, node := range dt.nodes {
		if node.IsLeaf {
			continue
		}
		thresholds = append(thresholds, node.Threshold)
	}
	sort.Float64s(thresholds)
	return thresholds
}

func (dt *DecisionTree) Leaves() int {
	count := 0
	for _, node := range dt.nodes {
		if node.IsLeaf {
			count++
		}
	}
	return count
}

func (dt *DecisionTree) Nodes() []TreeNode {
	return append([]TreeNode(nil), dt.nodes...)
}

func newLeaf(samples, bad int) TreeNode {
	return TreeNode{
		Threshold:  leafThreshold,
		LeftChild:  -1,
		RightChild: -1,
		Samples:    samples,
		Bad:        bad,
		IsLeaf:     true,
	}
}

// findBestSplit scans the sorted segment [start, end) for the split with the
// largest weighted entropy decrease that leaves minLeaf samples on each side.
func findBestSplit(xs []float64, prefixBad []int, node, start, end, minLeaf int) frontier {
	leaf := frontier{node: node, start: start, end: end}
	total := end - start
	if total < 2*minLeaf {
		return leaf
	}
	bad := prefixBad[end] - prefixBad[start]
	parentEntropy := entropy(bad, total)
	if parentEntropy == 0 {
		return leaf
	}

	n := float64(len(xs))
	for i := start + minLeaf; i <= end-minLeaf; i++ {
		if xs[i-1] == xs[i] {
			continue
		}
		leftN := i - start
		rightN := end - i
		leftBad := prefixBad[i] - prefixBad[start]
		rightBad := bad - leftBad
		weighted := (float64(leftN)*entropy(leftBad, leftN) + float64(rightN)*entropy(rightBad, rightN)) / float64(total)
		improvement := float64(total) / n * (parentEntropy - weighted)
		if !leaf.splittable || improvement > leaf.improvement {
			leaf.splittable = true
			leaf.split = i
			leaf.improvement = improvement
			leaf.threshold = midpoint(xs[i-1], xs[i])
		}
	}
	return leaf
}

func midpoint(lo, hi float64) float64 {
	mid := lo + (hi-lo)/2
	if mid >= hi || math.IsInf(mid, 0) {
		return lo
	}
	return mid
}

func entropy(bad, total int) float64 {
	if total == 0 || bad == 0 || bad == total {
		return 0
	}
	p := float64(bad) / float64(total)
	q := 1 - p
	return -p*math.Log2(p) - q*math.Log2(q)
}

func sortedSamples(values []float64, labels []int) ([]float64, []int) {
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	xs := make([]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = values[j]
		ys[i] = labels[j]
	}
	return xs, ys
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
