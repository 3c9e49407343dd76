package robustness

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mExOms/quantree/pkg/types"
)

// Percentiles of one metric. Undefined when no sample had a defined value.
type Percentiles struct {
	P5  types.Number `json:"p5"`
	P25 types.Number `json:"p25"`
	P50 types.Number `json:"p50"`
	P75 types.Number `json:"p75"`
	P95 types.Number `json:"p95"`
}

// Bin is one equal-width histogram bucket covering [Lower, Upper)
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Distribution summarizes one metric across samples
type Distribution struct {
	Percentiles
	Histogram []Bin `json:"histogram"`
	Undefined int   `json:"undefined"`
}

func distributions(samples []Sample, bins int) Distributions {
	pick := func(f func(Sample) types.Number) []float64 {
		out := make([]float64, len(samples))
		for i, s := range samples {
			out[i] = f(s).Float()
		}
		return out
	}
	return Distributions{
		CAGR:        distribution(pick(func(s Sample) types.Number { return s.CAGR }), bins),
		MaxDrawdown: distribution(pick(func(s Sample) types.Number { return s.MaxDrawdown }), bins),
		Sharpe:      distribution(pick(func(s Sample) types.Number { return s.Sharpe }), bins),
		Volatility:  distribution(pick(func(s Sample) types.Number { return s.Volatility }), bins),
	}
}

func distribution(values []float64, bins int) Distribution {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			defined = append(defined, v)
		}
	}
	sort.Float64s(defined)

	d := Distribution{Undefined: len(values) - len(defined)}
	if len(defined) == 0 {
		u := types.Undefined()
		d.Percentiles = Percentiles{P5: u, P25: u, P50: u, P75: u, P95: u}
		return d
	}
	q := func(p float64) types.Number {
		return types.Num(stat.Quantile(p, stat.Empirical, defined, nil))
	}
	d.Percentiles = Percentiles{P5: q(0.05), P25: q(0.25), P50: q(0.5), P75: q(0.75), P95: q(0.95)}
	d.Histogram = histogram(defined, bins)
	return d
}

// histogram buckets sorted values into equal-width bins spanning their
// range; a constant series gets a single bin
func histogram(sorted []float64, bins int) []Bin {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return []Bin{{Lower: lo, Upper: lo, Count: len(sorted)}}
	}

	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	// stat.Histogram excludes the upper edge
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{Lower: dividers[i], Upper: dividers[i+1], Count: int(counts[i])}
	}
	out[bins-1].Upper = hi
	return out
}
