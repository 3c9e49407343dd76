package indicator

import (
	"math"

	"github.com/mExOms/quantree/pkg/types"
	"gonum.org/v1/gonum/stat"
)

const bollingerK = 2.0

// Returns are simple close-to-close returns; index 0 is NaN
func Returns(x []float64) []float64 {
	out := nans(len(x))
	for i := 1; i < len(x); i++ {
		if valid(x[i]) && valid(x[i-1]) && x[i-1] != 0 {
			out[i] = x[i]/x[i-1] - 1
		}
	}
	return out
}

// ReturnStdev is the sample standard deviation of the last w daily
// returns, in percent
func ReturnStdev(x []float64, w int) []float64 {
	if w < 2 {
		return nans(len(x))
	}
	return rolling(Returns(x), w, func(win []float64) float64 {
		return stat.StdDev(win, nil) * 100
	})
}

// PriceStdev is the sample standard deviation of the last w prices
func PriceStdev(x []float64, w int) []float64 {
	if w < 2 {
		return nans(len(x))
	}
	return rolling(x, w, func(win []float64) float64 {
		return stat.StdDev(win, nil)
	})
}

// CurrentDrawdown is the percent decline of the last price from the
// highest price in the window
func CurrentDrawdown(x []float64, w int) []float64 {
	return rolling(x, w, func(win []float64) float64 {
		peak := win[0]
		for _, v := range win {
			peak = math.Max(peak, v)
		}
		if peak <= 0 {
			return math.NaN()
		}
		return (1 - win[len(win)-1]/peak) * 100
	})
}

// WindowMaxDrawdown is the deepest peak-to-trough decline inside the
// window, in percent
func WindowMaxDrawdown(x []float64, w int) []float64 {
	return rolling(x, w, func(win []float64) float64 {
		peak := win[0]
		worst := 0.0
		for _, v := range win {
			if v > peak {
				peak = v
			}
			if peak > 0 {
				worst = math.Max(worst, 1-v/peak)
			}
		}
		return worst * 100
	})
}

func trueRange(s *types.Series) []float64 {
	hi, lo := highs(s), lows(s)
	tr := nans(len(s.Close))
	for i := 1; i < len(tr); i++ {
		prev := s.Close[i-1]
		tr[i] = math.Max(hi[i]-lo[i], math.Max(math.Abs(hi[i]-prev), math.Abs(lo[i]-prev)))
	}
	return tr
}

// AverageTrueRange is Wilder-smoothed true range
func AverageTrueRange(s *types.Series, w int) []float64 {
	return WilderMA(trueRange(s), w)
}

// AverageTrueRangePercent is ATR as a percent of close
func AverageTrueRangePercent(s *types.Series, w int) []float64 {
	atr := AverageTrueRange(s, w)
	out := nans(len(atr))
	for i, v := range atr {
		if valid(v) && valid(s.Close[i]) && s.Close[i] != 0 {
			out[i] = v / s.Close[i] * 100
		}
	}
	return out
}

func bands(win []float64) (mid, upper, lower float64) {
	mid, variance := stat.MeanVariance(win, nil)
	n := float64(len(win))
	sd := 0.0
	if n > 1 {
		sd = math.Sqrt(variance * (n - 1) / n)
	}
	return mid, mid + bollingerK*sd, mid - bollingerK*sd
}

// BollingerB is the close's position inside the bands, in percent
func BollingerB(x []float64, w int) []float64 {
	return rolling(x, w, func(win []float64) float64 {
		_, upper, lower := bands(win)
		if upper == lower {
			return math.NaN()
		}
		return (win[len(win)-1] - lower) / (upper - lower) * 100
	})
}

// BollingerBandwidth is (upper - lower) / middle, in percent
func BollingerBandwidth(x []float64, w int) []float64 {
	return rolling(x, w, func(win []float64) float64 {
		mid, upper, lower := bands(win)
		if mid == 0 {
			return math.NaN()
		}
		return (upper - lower) / mid * 100
	})
}
