package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Bin is the half-open interval (Lower, Upper].
type Bin struct {
	Lower float64
	Upper float64
}

// Contains reports whether lower < v <= upper.
func (b Bin) Contains(v float64) bool {
	return b.Lower < v && v <= b.Upper
}

func (b Bin) String() string {
	return fmt.Sprintf("(%s, %s]", formatBound(b.Lower), formatBound(b.Upper))
}

func (b Bin) MarshalJSON() ([]byte, error) {
	return json.Marshal(binJSON{Lower: bound(b.Lower), Upper: bound(b.Upper)})
}

func (b *Bin) UnmarshalJSON(data []byte) error {
	var raw binJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Lower = float64(raw.Lower)
	b.Upper = float64(raw.Upper)
	return nil
}

type binJSON struct {
	Lower bound `json:"lower"`
	Upper bound `json:"upper"`
}

type bound float64

func (v bound) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsInf(f, 1):
		return []byte(`"+inf"`), nil
	case math.IsNaN(f):
		return nil, fmt.Errorf("bin bound is NaN")
	}
	return json.Marshal(f)
}

func (v *bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "-inf":
			*v = bound(math.Inf(-1))
		case "+inf", "inf":
			*v = bound(math.Inf(1))
		default:
			return fmt.Errorf("invalid bin bound %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = bound(f)
	return nil
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BinsFromThresholds turns sorted edges into len(edges)-1 contiguous bins.
func BinsFromThresholds(edges []float64) []Bin {
	if len(edges) < 2 {
		return nil
	}
	bins := make([]Bin, 0, len(edges)-1)
	for i := 1; i < len(edges); i++ {
		bins = append(bins, Bin{Lower: edges[i-1], Upper: edges[i]})
	}
	return bins
}

// AssignBin returns the index of the bin holding v, or -1.
func AssignBin(bins []Bin, v float64) int {
	for i, b := range bins {
		if b.Contains(v) {
			return i
		}
	}
	return -1
}
