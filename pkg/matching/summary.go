package matching

import (
	"encoding/json"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds aggregate statistics of one pairing table. The distance
// statistics cover within-gate pairs only and are NaN when there are none.
type Summary struct {
	Count              int
	CountWithinGate    int
	FractionWithinGate float64
	MedianWithinGateUm float64
	P90WithinGateUm    float64
	MeanWithinGateUm   float64
	MaxWithinGateUm    float64
	Strategy           string
	MaxDistanceUm      float64
}

// Summarize computes the summary of a pairing table
func Summarize(pairs []Pair, strategy Strategy, gate float64) Summary {
	valid := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if p.WithinGate {
			valid = append(valid, p.DistanceUm)
		}
	}

	s := Summary{
		Count:              len(pairs),
		CountWithinGate:    len(valid),
		FractionWithinGate: math.NaN(),
		MedianWithinGateUm: math.NaN(),
		P90WithinGateUm:    math.NaN(),
		MeanWithinGateUm:   math.NaN(),
		MaxWithinGateUm:    math.NaN(),
		Strategy:           strategy.String(),
		MaxDistanceUm:      gate,
	}
	if len(pairs) > 0 {
		s.FractionWithinGate = float64(len(valid)) / float64(len(pairs))
	}
	if len(valid) == 0 {
		return s
	}

	sort.Float64s(valid)
	s.MedianWithinGateUm = percentile(valid, 50)
	s.P90WithinGateUm = percentile(valid, 90)
	s.MeanWithinGateUm = stat.Mean(valid, nil)
	s.MaxWithinGateUm = floats.Max(valid)
	return s
}

// percentile interpolates linearly between the closest ranks of a sorted
// sample, the same definition numpy uses by default.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	a, b := sorted[int(lo)], sorted[int(hi)]
	return a + (b-a)*(pos-lo)
}

type summaryJSON struct {
	Count              int      `json:"count"`
	CountWithinGate    int      `json:"count_within_gate"`
	FractionWithinGate *float64 `json:"fraction_within_gate"`
	MedianWithinGateUm *float64 `json:"median_within_gate_um"`
	P90WithinGateUm    *float64 `json:"p90_within_gate_um"`
	MeanWithinGateUm   *float64 `json:"mean_within_gate_um"`
	MaxWithinGateUm    *float64 `json:"max_within_gate_um"`
	Strategy           string   `json:"strategy"`
	MaxDistanceUm      *float64 `json:"max_distance_um"`
}

// MarshalJSON writes NaN statistics and an infinite gate as null
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		Count:              s.Count,
		CountWithinGate:    s.CountWithinGate,
		FractionWithinGate: finite(s.FractionWithinGate),
		MedianWithinGateUm: finite(s.MedianWithinGateUm),
		P90WithinGateUm:    finite(s.P90WithinGateUm),
		MeanWithinGateUm:   finite(s.MeanWithinGateUm),
		MaxWithinGateUm:    finite(s.MaxWithinGateUm),
		Strategy:           s.Strategy,
		MaxDistanceUm:      finite(s.MaxDistanceUm),
	})
}

// UnmarshalJSON reads null statistics back as NaN and a null gate as +Inf
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw summaryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Summary{
		Count:              raw.Count,
		CountWithinGate:    raw.CountWithinGate,
		FractionWithinGate: orValue(raw.FractionWithinGate, math.NaN()),
		MedianWithinGateUm: orValue(raw.MedianWithinGateUm, math.NaN()),
		P90WithinGateUm:    orValue(raw.P90WithinGateUm, math.NaN()),
		MeanWithinGateUm:   orValue(raw.MeanWithinGateUm, math.NaN()),
		MaxWithinGateUm:    orValue(raw.MaxWithinGateUm, math.NaN()),
		Strategy:           raw.Strategy,
		MaxDistanceUm:      orValue(raw.MaxDistanceUm, math.Inf(1)),
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orValue(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}
