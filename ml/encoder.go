package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FeatureKind tags how a raw feature is looked up.
type FeatureKind string

const (
	KindContinuous  FeatureKind = "continuous"
	KindCategorical FeatureKind = "categorical"
)

// WOESuffix is appended to raw feature names to form model feature names.
const WOESuffix = "_woe"

// WOEName returns the model feature name for a raw feature.
func WOEName(raw string) string {
	return raw + WOESuffix
}

// RawName strips the WOE suffix from a model feature name.
func RawName(woe string) string {
	return strings.TrimSuffix(woe, WOESuffix)
}

// BinWOE carries a bin together with its weight of evidence.
type BinWOE struct {
	Bin Bin
	WOE float64
}

func (b BinWOE) MarshalJSON() ([]byte, error) {
	return json.Marshal(binWOEJSON{Lower: bound(b.Bin.Lower), Upper: bound(b.Bin.Upper), WOE: b.WOE})
}

func (b *BinWOE) UnmarshalJSON(data []byte) error {
	var raw binWOEJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Bin = Bin{Lower: float64(raw.Lower), Upper: float64(raw.Upper)}
	b.WOE = raw.WOE
	return nil
}

type binWOEJSON struct {
	Lower bound   `json:"lower"`
	Upper bound   `json:"upper"`
	WOE   float64 `json:"woe"`
}

// FeatureMapping is the frozen WOE table of one raw feature.
type FeatureMapping struct {
	Name       string             `json:"name"`
	Kind       FeatureKind        `json:"kind"`
	Bins       []BinWOE           `json:"bins,omitempty"`
	Categories map[string]float64 `json:"categories,omitempty"`
	IV         float64            `json:"iv"`
}

// NewContinuousMapping pairs edges with per-bin WOE values indexed by bin.
func NewContinuousMapping(name string, edges []float64, woe map[int]float64, iv float64) *FeatureMapping {
	bins := BinsFromThresholds(edges)
	out := make([]BinWOE, len(bins))
	for i, b := range bins {
		out[i] = BinWOE{Bin: b, WOE: woe[i]}
	}
	return &FeatureMapping{Name: name, Kind: KindContinuous, Bins: out, IV: iv}
}

// NewCategoricalMapping copies a category table.
func NewCategoricalMapping(name string, woe map[string]float64, iv float64) *FeatureMapping {
	categories := make(map[string]float64, len(woe))
	for k, v := range woe {
		categories[k] = v
	}
	return &FeatureMapping{Name: name, Kind: KindCategorical, Categories: categories, IV: iv}
}

// Encode returns the WOE of value. Values without a matching bin or category
// encode to the neutral 0 with matched set to false.
func (m *FeatureMapping) Encode(value any) (woe float64, matched bool) {
	if m == nil {
		return 0, false
	}
	switch m.Kind {
	case KindCategorical:
		w, ok := m.Categories[AsKey(value)]
		if !ok {
			return 0, false
		}
		return w, true
	case KindContinuous:
		v, ok := AsFloat(value)
		if !ok || math.IsNaN(v) {
			return 0, false
		}
		for _, b := range m.Bins {
			if b.Bin.Contains(v) {
				return b.WOE, true
			}
		}
	}
	return 0, false
}

// Thresholds returns the bin edges of a continuous mapping.
func (m *FeatureMapping) Thresholds() []float64 {
	if m == nil || m.Kind != KindContinuous || len(m.Bins) == 0 {
		return nil
	}
	edges := make([]float64, 0, len(m.Bins)+1)
	edges = append(edges, m.Bins[0].Bin.Lower)
	for _, b := range m.Bins {
		edges = append(edges, b.Bin.Upper)
	}
	return edges
}

func (m *FeatureMapping) clone() *FeatureMapping {
	out := *m
	out.Bins = append([]BinWOE(nil), m.Bins...)
	if m.Categories != nil {
		out.Categories = make(map[string]float64, len(m.Categories))
		for k, v := range m.Categories {
			out.Categories[k] = v
		}
	}
	return &out
}

func (m *FeatureMapping) validate(key string) error {
	var errs []error
	if m.Name != key {
		errs = append(errs, fmt.Errorf("mapping %q is stored under key %q", m.Name, key))
	}
	if !isFinite(m.IV) || m.IV < 0 {
		errs = append(errs, fmt.Errorf("mapping %q has invalid IV %v", key, m.IV))
	}
	switch m.Kind {
	case KindContinuous:
		if len(m.Bins) == 0 {
			errs = append(errs, fmt.Errorf("continuous mapping %q has no bins", key))
			break
		}
		if !math.IsInf(m.Bins[0].Bin.Lower, -1) {
			errs = append(errs, fmt.Errorf("mapping %q: first bin must start at -inf", key))
		}
		if !math.IsInf(m.Bins[len(m.Bins)-1].Bin.Upper, 1) {
			errs = append(errs, fmt.Errorf("mapping %q: last bin must end at +inf", key))
		}
		for i, b := range m.Bins {
			if !(b.Bin.Lower < b.Bin.Upper) {
				errs = append(errs, fmt.Errorf("mapping %q: bin %s is empty", key, b.Bin))
			}
			if i > 0 && m.Bins[i-1].Bin.Upper != b.Bin.Lower {
				errs = append(errs, fmt.Errorf("mapping %q: bins %s and %s are not contiguous", key, m.Bins[i-1].Bin, b.Bin))
			}
			if !isFinite(b.WOE) {
				errs = append(errs, fmt.Errorf("mapping %q: bin %s has non-finite WOE", key, b.Bin))
			}
		}
	case KindCategorical:
		labels := make([]string, 0, len(m.Categories))
		for label := range m.Categories {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if !isFinite(m.Categories[label]) {
				errs = append(errs, fmt.Errorf("mapping %q: category %q has non-finite WOE", key, label))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("mapping %q has unknown kind %q", key, m.Kind))
	}
	return errors.Join(errs...)
}
