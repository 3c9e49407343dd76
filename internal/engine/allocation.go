package engine

import (
	"sort"
)

// allocation maps tickers to portfolio fractions; missing weight is cash
type allocation map[string]float64

func (a allocation) tickers() []string {
	out := make([]string, 0, len(a))
	for t := range a {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// total sums weights in ticker order so results are reproducible
func (a allocation) total() float64 {
	sum := 0.0
	for _, t := range a.tickers() {
		sum += a[t]
	}
	return sum
}

// add merges scale*b into a
func (a allocation) add(b allocation, scale float64) {
	if scale == 0 {
		return
	}
	for _, t := range b.tickers() {
		a[t] += b[t] * scale
	}
}

func (a allocation) positive() map[string]float64 {
	out := make(map[string]float64, len(a))
	for t, w := range a {
		if w > 0 {
			out[t] = w
		}
	}
	return out
}
