package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BundleVersion is the only bundle format this package reads and writes.
const BundleVersion = 1

// ErrInvalidBundle wraps every bundle decode and validation failure.
var ErrInvalidBundle = errors.New("invalid model bundle")

// Bundle is everything needed to score an application.
type Bundle struct {
	Version    int                        `json:"version"`
	Name       string                     `json:"name,omitempty"`
	TrainedAt  *time.Time                 `json:"trained_at,omitempty"`
	RiskScheme string                     `json:"risk_scheme,omitempty"`
	Features   []string                   `json:"features"`
	Mappings   map[string]*FeatureMapping `json:"mappings"`
	Model      LinearModel                `json:"model"`
	Scoring    ScoringParams              `json:"scoring_params"`
	Metrics    *TrainingMetrics           `json:"metrics,omitempty"`
}

// Encode looks up the WOE of a model feature. Features without a mapping
// encode to 0 with matched set to false.
func (b *Bundle) Encode(feature string, value any) (float64, bool) {
	m, ok := b.Mappings[RawName(feature)]
	if !ok {
		return 0, false
	}
	return m.Encode(value)
}

// Scheme resolves the bundle's risk scheme, defaulting to the agency grades.
func (b *Bundle) Scheme() (RiskScheme, error) {
	if b.RiskScheme == "" {
		return AgencyScheme, nil
	}
	return SchemeByName(b.RiskScheme)
}

// RawFeatures returns the raw input names the model reads, sorted.
func (b *Bundle) RawFeatures() []string {
	raw := make([]string, 0, len(b.Features))
	for _, f := range b.Features {
		raw = append(raw, RawName(f))
	}
	sort.Strings(raw)
	return raw
}

// BinThresholds returns the edges of every continuous mapping.
func (b *Bundle) BinThresholds() map[string][]float64 {
	out := make(map[string][]float64)
	for name, m := range b.Mappings {
		if edges := m.Thresholds(); edges != nil {
			out[name] = edges
		}
	}
	return out
}

// IVScores returns the information value of every mapping.
func (b *Bundle) IVScores() map[string]float64 {
	out := make(map[string]float64, len(b.Mappings))
	for name, m := range b.Mappings {
		out[name] = m.IV
	}
	return out
}

// Validate reports every structural problem at once, wrapped in ErrInvalidBundle.
func (b *Bundle) Validate() error {
	var errs []error
	if b.Version != BundleVersion {
		errs = append(errs, fmt.Errorf("unsupported version %d", b.Version))
	}
	if len(b.Features) == 0 {
		errs = append(errs, errors.New("no features selected"))
	}
	if _, err := b.Scheme(); err != nil {
		errs = append(errs, err)
	}
	if err := b.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := b.Model.validate(); err != nil {
		errs = append(errs, err)
	}

	selected := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		if selected[f] {
			errs = append(errs, fmt.Errorf("feature %q listed twice", f))
		}
		selected[f] = true
		if _, ok := b.Model.Coefficients[f]; !ok {
			errs = append(errs, fmt.Errorf("feature %q has no coefficient", f))
		}
	}
	for _, f := range b.Model.Features() {
		if !selected[f] {
			errs = append(errs, fmt.Errorf("coefficient %q is not a selected feature", f))
		}
	}

	names := make([]string, 0, len(b.Mappings))
	for name := range b.Mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := b.Mappings[name]
		if m == nil {
			errs = append(errs, fmt.Errorf("mapping %q is null", name))
			continue
		}
		if err := m.validate(name); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	return nil
}

// Clone returns a deep copy.
func (b *Bundle) Clone() *Bundle {
	out := *b
	out.Features = append([]string(nil), b.Features...)
	if b.TrainedAt != nil {
		t := *b.TrainedAt
		out.TrainedAt = &t
	}
	out.Mappings = make(map[string]*FeatureMapping, len(b.Mappings))
	for name, m := range b.Mappings {
		if m != nil {
			out.Mappings[name] = m.clone()
		}
	}
	out.Model = b.Model.clone()
	if b.Metrics != nil {
		metrics := *b.Metrics
		if b.Metrics.IVScores != nil {
			metrics.IVScores = make(map[string]float64, len(b.Metrics.IVScores))
			for k, v := range b.Metrics.IVScores {
				metrics.IVScores[k] = v
			}
		}
		out.Metrics = &metrics
	}
	return &out
}

// Fingerprint is the hex sha256 of the canonical JSON encoding.
func (b *Bundle) Fingerprint() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the bundle atomically through a temporary file in the same directory.
func (b *Bundle) Save(path string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*.json")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename bundle: %w", err)
	}
	return nil
}

// LoadBundle reads and validates a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()
	b, err := DecodeBundle(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return b, nil
}

// DecodeBundle checks r against BundleSchema, decodes it strictly and
// validates the result.
func DecodeBundle(r io.Reader) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	if err := ValidateBundleJSON(data); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if b.Mappings == nil {
		b.Mappings = map[string]*FeatureMapping{}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
