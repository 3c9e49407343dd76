package robustness

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/pkg/types"
)

// Sample holds the metrics of one resampled return path
type Sample struct {
	CAGR        types.Number `json:"cagr"`
	MaxDrawdown types.Number `json:"max_drawdown"`
	Sharpe      types.Number `json:"sharpe"`
	Volatility  types.Number `json:"volatility"`
}

// measure computes path metrics, annualizing by trading days
func measure(returns []float64) Sample {
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := 1 - equity/peak; dd > maxDD {
			maxDD = dd
		}
	}

	s := Sample{
		CAGR:        types.Undefined(),
		MaxDrawdown: types.Num(maxDD),
		Sharpe:      types.Num(backtest.CalculateSharpeRatio(returns, 0)),
		Volatility:  types.Undefined(),
	}
	if n := len(returns); n > 0 {
		if equity <= 0 {
			s.CAGR = -1
		} else {
			s.CAGR = types.Num(math.Pow(equity, backtest.TradingDaysPerYear/float64(n)) - 1)
		}
	}
	if len(returns) > 1 {
		s.Volatility = types.Num(stat.StdDev(returns, nil) * math.Sqrt(backtest.TradingDaysPerYear))
	}
	return s
}

// monteCarlo assembles paths of PathYears trading years from contiguous
// blocks drawn with replacement at uniform start offsets. Blocks never span
// more than a quarter of the history, so short series still resample.
func monteCarlo(returns []float64, cfg Config, rng *rand.Rand) []Sample {
	pathLen := cfg.PathYears * backtest.TradingDaysPerYear
	block := blockLen(cfg.BlockDays, len(returns))
	starts := len(returns) - block + 1

	samples := make([]Sample, cfg.Paths)
	path := make([]float64, 0, pathLen)
	for i := range samples {
		path = path[:0]
		for len(path) < pathLen {
			offset := rng.Intn(starts)
			take := min(block, pathLen-len(path))
			path = append(path, returns[offset:offset+take]...)
		}
		samples[i] = measure(path)
	}
	return samples
}

func blockLen(blockDays, n int) int {
	return min(blockDays, max(1, n/4))
}

// kFold drops a random DropFraction of days per fold and measures the rest
// in their original order
func kFold(returns []float64, cfg Config, rng *rand.Rand) []Sample {
	n := len(returns)
	drop := int(math.Round(float64(n) * cfg.DropFraction))
	drop = max(1, min(drop, n-2))

	samples := make([]Sample, cfg.Folds)
	kept := make([]float64, 0, n-drop)
	dropped := make([]bool, n)
	for i := range samples {
		clear(dropped)
		for _, j := range rng.Perm(n)[:drop] {
			dropped[j] = true
		}
		kept = kept[:0]
		for j, r := range returns {
			if !dropped[j] {
				kept = append(kept, r)
			}
		}
		samples[i] = measure(kept)
	}
	return samples
}
