package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// TrainingSet is a column-oriented training table with a binary target.
type TrainingSet struct {
	Numeric     map[string][]float64
	Categorical map[string][]string
	Target      []int
}

// Rows returns the number of observations.
func (s *TrainingSet) Rows() int {
	return len(s.Target)
}

func (s *TrainingSet) validate() error {
	var errs []error
	if len(s.Target) == 0 {
		errs = append(errs, errors.New("training set has no rows"))
	}
	for name, col := range s.Numeric {
		if len(col) != len(s.Target) {
			errs = append(errs, fmt.Errorf("numeric column %q has %d rows, want %d", name, len(col), len(s.Target)))
		}
	}
	for name, col := range s.Categorical {
		if len(col) != len(s.Target) {
			errs = append(errs, fmt.Errorf("categorical column %q has %d rows, want %d", name, len(col), len(s.Target)))
		}
	}
	return errors.Join(errs...)
}

// FitConfig controls feature engineering and model fitting.
type FitConfig struct {
	Name        string        `yaml:"name"`
	Continuous  []string      `yaml:"continuous"`
	Categorical []string      `yaml:"categorical"`
	MaxBins     int           `yaml:"max_bins"`
	IVThreshold float64       `yaml:"iv_threshold"`
	TestRatio   float64       `yaml:"test_ratio"`
	Seed        int64         `yaml:"seed"`
	RiskScheme  string        `yaml:"risk_scheme"`
	Scoring     ScoringParams `yaml:"scoring"`
}

// DefaultFitConfig reproduces the training script's feature lists and settings.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Name: "woe_logistic_scorecard",
		Continuous: []string{
			"annual_inc",
			"int_rate",
			"credit_history_length",
			"total_rev_hi_lim",
			"open_acc",
			"revol_util",
			"tot_cur_bal",
			"mths_since_last_record",
			"mths_since_last_delinq",
			"loan_burden",
		},
		Categorical: []string{
			"term",
			"home_ownership",
			"purpose",
			"emp_length",
			"verification_status",
		},
		MaxBins:     DefaultMaxBins,
		IVThreshold: 0.02,
		TestRatio:   0.3,
		Seed:        42,
		RiskScheme:  SchemeAgency,
		Scoring:     DefaultScoringParams(),
	}
}

// Fitter turns a TrainingSet into a validated Bundle.
type Fitter struct {
	Config FitConfig
	Logger *zap.Logger
	Now    func() time.Time
}

// Fit runs the fit with the given config.
func Fit(set *TrainingSet, cfg FitConfig, logger *zap.Logger) (*Bundle, error) {
	return Fitter{Config: cfg, Logger: logger}.Fit(set)
}

func (f Fitter) Fit(set *TrainingSet) (*Bundle, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := f.Now
	if now == nil {
		now = time.Now
	}
	cfg := f.Config
	if cfg.MaxBins < 2 {
		cfg.MaxBins = DefaultMaxBins
	}
	if cfg.Scoring == (ScoringParams{}) {
		cfg.Scoring = DefaultScoringParams()
	}
	if cfg.RiskScheme == "" {
		cfg.RiskScheme = SchemeAgency
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("scoring params: %w", err)
	}
	if _, err := SchemeByName(cfg.RiskScheme); err != nil {
		return nil, err
	}
	if set == nil {
		return nil, errors.New("nil training set")
	}
	if err := set.validate(); err != nil {
		return nil, err
	}

	mappings := make(map[string]*FeatureMapping)
	encoded := make(map[string][]float64)
	binner := Binner{MaxBins: cfg.MaxBins, Logger: logger}

	for _, name := range cfg.Continuous {
		col, ok := set.Numeric[name]
		if !ok {
			logger.Debug("continuous feature not in training set", zap.String("feature", name))
			continue
		}
		edges := binner.Fit(name, col, set.Target)
		bins := BinsFromThresholds(edges)

		keys := make([]int, 0, len(col))
		labels := make([]int, 0, len(col))
		for i, v := range col {
			if math.IsNaN(v) {
				continue
			}
			if idx := AssignBin(bins, v); idx >= 0 {
				keys = append(keys, idx)
				labels = append(labels, set.Target[i])
			}
		}
		woe, iv, err := ComputeWOE(keys, labels)
		if err != nil {
			logger.Warn("woe calculation failed", zap.String("feature", name), zap.Error(err))
			continue
		}
		m := NewContinuousMapping(name, edges, woe, iv)
		mappings[name] = m
		encoded[name] = encodeColumn(len(col), func(i int) (float64, bool) {
			if math.IsNaN(col[i]) {
				return 0, false
			}
			return m.Encode(col[i])
		})
		logger.Info("woe applied", zap.String("feature", name), zap.Int("bins", len(bins)), zap.Float64("iv", iv))
	}

	for _, name := range cfg.Categorical {
		col, ok := set.Categorical[name]
		if !ok {
			logger.Debug("categorical feature not in training set", zap.String("feature", name))
			continue
		}
		woe, iv, err := ComputeWOE(col, set.Target)
		if err != nil {
			logger.Warn("woe calculation failed", zap.String("feature", name), zap.Error(err))
			continue
		}
		m := NewCategoricalMapping(name, woe, iv)
		mappings[name] = m
		encoded[name] = encodeColumn(len(col), func(i int) (float64, bool) {
			return m.Encode(col[i])
		})
		logger.Info("woe applied", zap.String("feature", name), zap.Int("categories", len(woe)), zap.Float64("iv", iv))
	}

	var selected []string
	for _, name := range sortedKeys(mappings) {
		if iv := mappings[name].IV; iv > cfg.IVThreshold {
			selected = append(selected, name)
			logger.Info("feature selected", zap.String("feature", name), zap.Float64("iv", iv))
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no feature has IV above %v", cfg.IVThreshold)
	}

	trainIdx, testIdx := stratifiedSplit(set.Target, cfg.TestRatio, cfg.Seed)
	trainX, trainY := designMatrix(encoded, selected, set.Target, trainIdx)
	testX, testY := designMatrix(encoded, selected, set.Target, testIdx)

	intercept, weights, err := NewLogisticRegression().Fit(trainX, trainY)
	if err != nil {
		return nil, fmt.Errorf("fit logistic regression: %w", err)
	}
	model := LinearModel{Intercept: intercept, Coefficients: make(map[string]float64, len(selected))}
	features := make([]string, len(selected))
	for j, name := range selected {
		features[j] = WOEName(name)
		model.Coefficients[features[j]] = weights[j]
	}

	scores := make([]float64, len(testX))
	for i, row := range testX {
		z := intercept
		for j, v := range row {
			z += weights[j] * v
		}
		scores[i] = Logistic(z)
	}
	auc := AUC(scores, testY)
	logger.Info("model fitted",
		zap.Int("features", len(features)),
		zap.Int("train_samples", len(trainX)),
		zap.Int("test_samples", len(testX)),
		zap.Float64("auc", auc),
	)

	ivScores := make(map[string]float64, len(mappings))
	for name, m := range mappings {
		ivScores[name] = m.IV
	}
	selectedMappings := make(map[string]*FeatureMapping, len(selected))
	for _, name := range selected {
		selectedMappings[name] = mappings[name]
	}
	trainedAt := now().UTC()
	bundle := &Bundle{
		Version:    BundleVersion,
		Name:       cfg.Name,
		TrainedAt:  &trainedAt,
		RiskScheme: cfg.RiskScheme,
		Features:   features,
		Mappings:   selectedMappings,
		Model:      model,
		Scoring:    cfg.Scoring,
		Metrics: &TrainingMetrics{
			AUC:          auc,
			TrainSamples: len(trainX),
			TestSamples:  len(testX),
			IVScores:     ivScores,
		},
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// encodeColumn applies enc to every row. Unmatched rows encode to 0.
func encodeColumn(n int, enc func(i int) (float64, bool)) []float64 {
	out := make([]float64, n)
	for i := range out {
		if v, ok := enc(i); ok {
			out[i] = v
		}
	}
	return out
}

func designMatrix(encoded map[string][]float64, features []string, target []int, rows []int) ([][]float64, []int) {
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		row := make([]float64, len(features))
		for j, name := range features {
			row[j] = encoded[name][r]
		}
		x[i] = row
		y[i] = target[r]
	}
	return x, y
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
