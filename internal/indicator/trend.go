package indicator

import (
	"math"

	"github.com/mExOms/quantree/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// 13612W lookbacks in trading days
var momentumLags = [4]int{21, 63, 126, 252}

var momentumWeights = [4]float64{12, 4, 2, 1}

// Momentum is the 13612W weighted momentum:
// (12*(P0/P1-1) + 4*(P0/P3-1) + 2*(P0/P6-1) + (P0/P12-1)) / 19
func Momentum(x []float64) []float64 {
	out := nans(len(x))
	for i := momentumLags[3]; i < len(x); i++ {
		if !valid(x[i]) {
			continue
		}
		sum := 0.0
		for k, lag := range momentumLags {
			past := x[i-lag]
			if !valid(past) || past == 0 {
				sum = math.NaN()
				break
			}
			sum += momentumWeights[k] * (x[i]/past - 1)
		}
		out[i] = sum / 19
	}
	return out
}

// CumulativeReturns is the percent change over w bars
func CumulativeReturns(x []float64, w int) []float64 {
	out := nans(len(x))
	for i := w; i < len(x); i++ {
		if valid(x[i]) && valid(x[i-w]) && x[i-w] != 0 {
			out[i] = (x[i]/x[i-w] - 1) * 100
		}
	}
	return out
}

// AverageReturns is the mean daily return over w bars, in percent
func AverageReturns(x []float64, w int) []float64 {
	avg := SimpleMA(Returns(x), w)
	for i := range avg {
		avg[i] *= 100
	}
	return avg
}

func regression(win []float64) (alpha, beta float64, xs []float64) {
	xs = make([]float64, len(win))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta = stat.LinearRegression(xs, win, nil, false)
	return alpha, beta, xs
}

// RegressionSlope is the least-squares slope of price per bar over w bars
func RegressionSlope(x []float64, w int) []float64 {
	if w < 2 {
		return nans(len(x))
	}
	return rolling(x, w, func(win []float64) float64 {
		_, beta, _ := regression(win)
		return beta
	})
}

// RegressionR2 is the coefficient of determination of that fit
func RegressionR2(x []float64, w int) []float64 {
	if w < 2 {
		return nans(len(x))
	}
	return rolling(x, w, func(win []float64) float64 {
		alpha, beta, xs := regression(win)
		return stat.RSquared(xs, win, nil, alpha, beta)
	})
}

// AverageDirectionalIndex is Wilder's ADX over w bars
func AverageDirectionalIndex(s *types.Series, w int) []float64 {
	hi, lo := highs(s), lows(s)
	n := len(s.Close)
	plusDM, minusDM := nans(n), nans(n)
	for i := 1; i < n; i++ {
		up := hi[i] - hi[i-1]
		down := lo[i-1] - lo[i]
		if math.IsNaN(up) || math.IsNaN(down) {
			continue
		}
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	tr := WilderMA(trueRange(s), w)
	plus, minus := WilderMA(plusDM, w), WilderMA(minusDM, w)

	dx := nans(n)
	for i := range dx {
		if !valid(tr[i]) || !valid(plus[i]) || !valid(minus[i]) || tr[i] == 0 {
			continue
		}
		pdi := 100 * plus[i] / tr[i]
		mdi := 100 * minus[i] / tr[i]
		if pdi+mdi == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}
	return WilderMA(dx, w)
}
