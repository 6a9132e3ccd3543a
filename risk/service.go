package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"scorecard/ml"
	"scorecard/monitoring"
)

// ModelType is reported by Info.
const ModelType = "logistic_regression_woe"

// MissingFeatureError lists model features whose raw input is structurally
// absent after normalization.
type MissingFeatureError struct {
	Features []string
}

func (e *MissingFeatureError) Error() string {
	return "missing required features: " + strings.Join(e.Features, ", ")
}

type Result struct {
	CreditScore        float64 `json:"credit_score"`
	DefaultProbability float64 `json:"default_probability"`
	RiskLevel          string  `json:"risk_level"`
	LogOdds            float64 `json:"log_odds"`
}

// BatchItem is a batch result. Failed items carry score 0, probability 1,
// risk level "Error" and the reason.
type BatchItem struct {
	Result
	Error  string   `json:"error,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

type ModelInfo struct {
	ModelType     string              `json:"model_type"`
	Name          string              `json:"name,omitempty"`
	FeaturesUsed  []string            `json:"features_used"`
	ScoringParams ml.ScoringParams    `json:"scoring_params"`
	TrainingDate  string              `json:"training_date,omitempty"`
	RiskScheme    string              `json:"risk_scheme"`
	RiskLevels    []string            `json:"risk_levels"`
	Version       int                 `json:"version"`
	Source        string              `json:"source,omitempty"`
	Fingerprint   string              `json:"fingerprint"`
	LoadedAt      time.Time           `json:"loaded_at"`
	Metrics       *ml.TrainingMetrics `json:"metrics,omitempty"`
}

type options struct {
	logger *zap.Logger
	schema Schema
	scheme string
	source string
	now    func() time.Time
}

// Option configures NewService.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithSchema(schema Schema) Option {
	return func(o *options) { o.schema = schema }
}

// WithRiskScheme overrides the scheme named in the bundle.
func WithRiskScheme(name string) Option {
	return func(o *options) { o.scheme = name }
}

// WithSource records where the bundle came from.
func WithSource(source string) Option {
	return func(o *options) { o.source = source }
}

// Service scores applications against one bundle. It is immutable and safe
// for concurrent use.
type Service struct {
	bundle      *ml.Bundle
	scheme      ml.RiskScheme
	schema      Schema
	logger      *zap.Logger
	fingerprint string
	source      string
	loadedAt    time.Time
}

// NewService validates bundle and freezes a private copy of it.
func NewService(bundle *ml.Bundle, opts ...Option) (*Service, error) {
	if bundle == nil {
		return nil, fmt.Errorf("%w: nil bundle", ml.ErrInvalidBundle)
	}
	o := options{logger: zap.NewNop(), schema: DefaultSchema(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	frozen := bundle.Clone()

	scheme, err := frozen.Scheme()
	if o.scheme != "" {
		scheme, err = ml.SchemeByName(o.scheme)
	}
	if err != nil {
		return nil, err
	}
	fingerprint, err := frozen.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprint bundle: %w", err)
	}

	s := &Service{
		bundle:      frozen,
		scheme:      scheme,
		schema:      o.schema.WithMappings(frozen.Mappings),
		logger:      o.logger,
		fingerprint: fingerprint,
		source:      o.source,
		loadedAt:    o.now(),
	}
	var untabled []string
	for _, raw := range frozen.RawFeatures() {
		if _, ok := frozen.Mappings[raw]; !ok {
			untabled = append(untabled, raw)
		}
	}
	if len(untabled) > 0 {
		s.logger.Warn("model features without a WOE table always encode to 0", zap.Strings("features", untabled))
	}
	s.logger.Info("scorecard ready",
		zap.String("name", frozen.Name),
		zap.String("risk_scheme", scheme.Name),
		zap.Int("features", len(frozen.Features)),
		zap.String("fingerprint", fingerprint[:12]),
	)
	return s, nil
}

// Predict normalizes raw, encodes every model feature and scores the result.
func (s *Service) Predict(raw map[string]any) (Result, error) {
	processed := s.schema.Normalize(raw)

	var missing []string
	for _, feature := range s.bundle.Features {
		if _, ok := processed[ml.RawName(feature)]; !ok {
			missing = append(missing, ml.RawName(feature))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		monitoring.RecordPredictionError("missing_feature")
		return Result{}, &MissingFeatureError{Features: missing}
	}

	encoded := make(map[string]float64, len(s.bundle.Features))
	for _, feature := range s.bundle.Features {
		name := ml.RawName(feature)
		mapping, ok := s.bundle.Mappings[name]
		if !ok {
			encoded[feature] = 0
			continue
		}
		woe, matched := mapping.Encode(processed[name])
		if !matched {
			s.logger.Warn("no WOE match, using neutral value",
				zap.String("feature", name),
				zap.Any("value", processed[name]),
			)
			monitoring.RecordEncoderFallback(name)
		}
		encoded[feature] = woe
	}

	logOdds, err := s.bundle.Model.LogOdds(encoded)
	if err != nil {
		monitoring.RecordPredictionError("invalid_feature_vector")
		return Result{}, err
	}
	score, probability := s.bundle.Scoring.Score(logOdds)
	level := s.scheme.Classify(score)
	monitoring.RecordPrediction(level)
	return Result{
		CreditScore:        score,
		DefaultProbability: probability,
		RiskLevel:          level,
		LogOdds:            logOdds,
	}, nil
}

// PredictBatch scores each item independently. Invalid or failing items are
// returned as error-tagged results in their original position.
func (s *Service) PredictBatch(items []map[string]any) []BatchItem {
	out := make([]BatchItem, len(items))
	for i, item := range items {
		out[i] = s.predictItem(i, item)
	}
	return out
}

func (s *Service) predictItem(index int, item map[string]any) (out BatchItem) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch item panicked", zap.Int("index", index), zap.Any("panic", r))
			monitoring.RecordPredictionError("panic")
			out = errorItem(fmt.Sprintf("prediction failed: %v", r))
		}
	}()
	if ok, problems := s.Validate(item); !ok {
		monitoring.RecordPredictionError("validation")
		item := errorItem("validation failed")
		item.Errors = problems
		return item
	}
	result, err := s.Predict(item)
	if err != nil {
		s.logger.Warn("batch item failed", zap.Int("index", index), zap.Error(err))
		return errorItem(err.Error())
	}
	return BatchItem{Result: result}
}

func errorItem(msg string) BatchItem {
	return BatchItem{
		Result: Result{CreditScore: 0, DefaultProbability: 1, RiskLevel: ml.RiskLevelError},
		Error:  msg,
	}
}

// Validate checks an application against the input rules.
func (s *Service) Validate(raw map[string]any) (bool, []string) {
	return s.schema.Validate(raw)
}

// Importance returns |coefficient| per model feature.
func (s *Service) Importance() map[string]float64 {
	return s.bundle.Model.Importance()
}

func (s *Service) Info() ModelInfo {
	info := ModelInfo{
		ModelType:     ModelType,
		Name:          s.bundle.Name,
		FeaturesUsed:  append([]string(nil), s.bundle.Features...),
		ScoringParams: s.bundle.Scoring,
		RiskScheme:    s.scheme.Name,
		RiskLevels:    s.scheme.Labels(),
		Version:       s.bundle.Version,
		Source:        s.source,
		Fingerprint:   s.fingerprint,
		LoadedAt:      s.loadedAt,
	}
	if s.bundle.TrainedAt != nil {
		info.TrainingDate = s.bundle.TrainedAt.Format(time.RFC3339)
	}
	if s.bundle.Metrics != nil {
		metrics := *s.bundle.Metrics
		info.Metrics = &metrics
	}
	return info
}

func (s *Service) Fingerprint() string {
	return s.fingerprint
}

// Bundle returns a copy of the frozen bundle.
func (s *Service) Bundle() *ml.Bundle {
	return s.bundle.Clone()
}

// IsInputError reports whether err was caused by the application rather than
// the service.
func IsInputError(err error) bool {
	var missing *MissingFeatureError
	var invalid *ml.InvalidFeatureVectorError
	return errors.As(err, &missing) || errors.As(err, &invalid)
}
