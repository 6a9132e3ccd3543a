package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// InvalidFeatureVectorError reports an encoded value that cannot enter the
// linear combination.
type InvalidFeatureVectorError struct {
	Feature string
	Value   float64
	Reason  string
}

func (e *InvalidFeatureVectorError) Error() string {
	return fmt.Sprintf("invalid feature vector: %s=%v: %s", e.Feature, e.Value, e.Reason)
}

// LinearModel is a logistic regression over WOE-encoded features.
type LinearModel struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

// Features returns the model feature names in sorted order.
func (m LinearModel) Features() []string {
	names := make([]string, 0, len(m.Coefficients))
	for name := range m.Coefficients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogOdds sums intercept and coef*value over the model features in sorted
// order so repeated calls produce identical bits.
func (m LinearModel) LogOdds(encoded map[string]float64) (float64, error) {
	logOdds := m.Intercept
	for _, name := range m.Features() {
		v, ok := encoded[name]
		if !ok {
			return 0, &InvalidFeatureVectorError{Feature: name, Value: math.NaN(), Reason: "missing from encoded vector"}
		}
		if math.IsNaN(v) {
			return 0, &InvalidFeatureVectorError{Feature: name, Value: v, Reason: "value is NaN"}
		}
		if math.IsInf(v, 0) {
			return 0, &InvalidFeatureVectorError{Feature: name, Value: v, Reason: "value is infinite"}
		}
		logOdds += m.Coefficients[name] * v
	}
	if !isFinite(logOdds) {
		return 0, &InvalidFeatureVectorError{Feature: "log_odds", Value: logOdds, Reason: "linear combination is not finite"}
	}
	return logOdds, nil
}

// Importance returns the absolute coefficient of every model feature.
func (m LinearModel) Importance() map[string]float64 {
	out := make(map[string]float64, len(m.Coefficients))
	for name, coef := range m.Coefficients {
		out[name] = math.Abs(coef)
	}
	return out
}

func (m LinearModel) clone() LinearModel {
	coefs := make(map[string]float64, len(m.Coefficients))
	for k, v := range m.Coefficients {
		coefs[k] = v
	}
	return LinearModel{Intercept: m.Intercept, Coefficients: coefs}
}

func (m LinearModel) validate() error {
	var errs []error
	if !isFinite(m.Intercept) {
		errs = append(errs, errors.New("intercept is not finite"))
	}
	if len(m.Coefficients) == 0 {
		errs = append(errs, errors.New("model has no coefficients"))
	}
	for _, name := range m.Features() {
		if !isFinite(m.Coefficients[name]) {
			errs = append(errs, fmt.Errorf("coefficient %q is not finite", name))
		}
	}
	return errors.Join(errs...)
}
