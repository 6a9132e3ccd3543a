package ml

import (
	"errors"
	"fmt"
	"math"
)

// LogisticRegression fits an L2 penalized logistic model by Newton steps.
// C is the inverse regularization strength; the intercept is not penalized.
type LogisticRegression struct {
	C         float64
	MaxIter   int
	Tolerance float64
}

// NewLogisticRegression returns the defaults used for scorecard fitting.
func NewLogisticRegression() LogisticRegression {
	return LogisticRegression{C: 1, MaxIter: 1000, Tolerance: 1e-8}
}

// Fit returns the intercept and one weight per column of x.
func (lr LogisticRegression) Fit(x [][]float64, y []int) (intercept float64, weights []float64, err error) {
	if len(x) == 0 {
		return 0, nil, errors.New("no training rows")
	}
	if len(x) != len(y) {
		return 0, nil, fmt.Errorf("%d rows for %d labels", len(x), len(y))
	}
	cols := len(x[0])
	for i, row := range x {
		if len(row) != cols {
			return 0, nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
	}
	c := lr.C
	if c <= 0 {
		c = 1
	}
	maxIter := lr.MaxIter
	if maxIter <= 0 {
		maxIter = 1000
	}
	tol := lr.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	// beta[0] is the intercept.
	dim := cols + 1
	beta := make([]float64, dim)
	lambda := 1 / c

	for iter := 0; iter < maxIter; iter++ {
		grad := make([]float64, dim)
		hess := make([][]float64, dim)
		for i := range hess {
			hess[i] = make([]float64, dim)
		}
		for i, row := range x {
			z := beta[0]
			for j, v := range row {
				z += beta[j+1] * v
			}
			p := Logistic(z)
			r := p - float64(y[i])
			w := p * (1 - p)
			grad[0] += r
			hess[0][0] += w
			for j, v := range row {
				grad[j+1] += r * v
				hess[0][j+1] += w * v
				for k := j; k < cols; k++ {
					hess[j+1][k+1] += w * v * row[k]
				}
			}
		}
		for j := 1; j < dim; j++ {
			grad[j] += lambda * beta[j]
			hess[j][j] += lambda
		}
		for j := 0; j < dim; j++ {
			for k := 0; k < j; k++ {
				hess[j][k] = hess[k][j]
			}
		}

		step, err := solve(hess, grad)
		if err != nil {
			return 0, nil, fmt.Errorf("newton step %d: %w", iter, err)
		}
		maxDelta := 0.0
		for j := range beta {
			beta[j] -= step[j]
			maxDelta = math.Max(maxDelta, math.Abs(step[j]))
		}
		if maxDelta < tol {
			break
		}
	}

	for j, b := range beta {
		if !isFinite(b) {
			return 0, nil, fmt.Errorf("coefficient %d diverged", j)
		}
	}
	return beta[0], beta[1:], nil
}
