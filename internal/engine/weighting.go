package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mExOms/quantree/internal/strategy"
)

const epsilon = 1e-12

// weigh combines child allocations of one slot
func (e *Evaluator) weigh(w strategy.Weighting, children []allocation, t int) (allocation, error) {
	out := make(allocation)
	if len(children) == 0 {
		return out, nil
	}

	switch w.EffectiveMode() {
	case strategy.WeightEqual:
		share := 1.0 / float64(len(children))
		for _, c := range children {
			out.add(c, share)
		}
		return out, nil

	case strategy.WeightDefined:
		return definedWeights(w.Weights, children), nil

	case strategy.WeightInverseVol, strategy.WeightProVol:
		return e.volWeights(w, children, t)

	case strategy.WeightCapped:
		share := 1.0 / float64(len(children))
		for _, c := range children {
			out.add(c, share)
		}
		return capWeights(out, w.Cap, w.Fallback), nil
	}
	return nil, fmt.Errorf("unknown weighting mode %q", w.Mode)
}

// definedWeights applies percentage weights by position. Totals under 100
// leave cash; totals over 100 are scaled down to a full allocation.
func definedWeights(weights []float64, children []allocation) allocation {
	out := make(allocation)
	sum := 0.0
	for i := range children {
		if i < len(weights) {
			sum += weights[i]
		}
	}
	scale := 1.0 / 100
	if sum > 100 {
		scale = 1.0 / sum
	}
	for i, c := range children {
		if i < len(weights) {
			out.add(c, weights[i]*scale)
		}
	}
	return out
}

// portfolioVol is the sample deviation of the daily returns of holding a
// over the window ending at t
func (e *Evaluator) portfolioVol(a allocation, window, t int) (float64, error) {
	from := t - window + 1
	if from < 1 || a.total() <= 0 {
		return math.NaN(), nil
	}
	series := make([]float64, window)
	for _, ticker := range a.tickers() {
		returns, err := e.cache.Returns(ticker)
		if err != nil {
			return 0, err
		}
		for k := 0; k < window; k++ {
			series[k] += a[ticker] * returns[from+k]
		}
	}
	for _, r := range series {
		if !defined(r) {
			return math.NaN(), nil
		}
	}
	return stat.StdDev(series, nil), nil
}

// volWeights weighs children by inverse or proportional volatility.
// Children with undefined or zero volatility are left out; if none remain
// the slot goes to the fallback ticker, or cash.
func (e *Evaluator) volWeights(w strategy.Weighting, children []allocation, t int) (allocation, error) {
	raw := make([]float64, len(children))
	sum := 0.0
	for i, c := range children {
		vol, err := e.portfolioVol(c, w.VolWindow(), t)
		if err != nil {
			return nil, err
		}
		if !defined(vol) || vol <= epsilon {
			continue
		}
		if w.EffectiveMode() == strategy.WeightInverseVol {
			raw[i] = 1 / vol
		} else {
			raw[i] = vol
		}
		sum += raw[i]
	}

	out := make(allocation)
	if sum <= 0 {
		if w.Fallback != "" && w.Fallback != strategy.CashTicker {
			out[w.Fallback] = 1
		}
		return out, nil
	}
	for i, c := range children {
		out.add(c, raw[i]/sum)
	}
	return out, nil
}

// capWeights limits every ticker to limit, handing the excess to uncapped
// tickers in proportion to their weight. Whatever cannot be placed goes to
// the fallback ticker, or cash.
func capWeights(a allocation, limit float64, fallback string) allocation {
	out := make(allocation, len(a))
	for t, w := range a {
		out[t] = w
	}
	tickers := out.tickers()

	residual := 0.0
	for {
		excess := 0.0
		for _, t := range tickers {
			if out[t] > limit+epsilon {
				excess += out[t] - limit
				out[t] = limit
			}
		}
		if excess <= epsilon {
			break
		}

		room := 0.0
		for _, t := range tickers {
			if out[t] > 0 && out[t] < limit-epsilon {
				room += out[t]
			}
		}
		if room <= 0 {
			residual = excess
			break
		}
		for _, t := range tickers {
			if out[t] > 0 && out[t] < limit-epsilon {
				out[t] += excess * out[t] / room
			}
		}
	}

	if residual > epsilon && fallback != "" && fallback != strategy.CashTicker {
		out[fallback] += residual
	}
	return out
}
