package indicator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	kamaFast = 2.0 / 3.0
	kamaSlow = 2.0 / 31.0
)

// SimpleMA is the arithmetic mean of the last w values
func SimpleMA(x []float64, w int) []float64 {
	return rolling(x, w, func(win []float64) float64 {
		return stat.Mean(win, nil)
	})
}

// WeightedMA weights the most recent value w, the oldest 1
func WeightedMA(x []float64, w int) []float64 {
	denom := float64(w*(w+1)) / 2
	return rolling(x, w, func(win []float64) float64 {
		sum := 0.0
		for k, v := range win {
			sum += float64(k+1) * v
		}
		return sum / denom
	})
}

// ExponentialMA is seeded with the SMA of the first w values
func ExponentialMA(x []float64, w int) []float64 {
	return smooth(x, w, 2/float64(w+1))
}

// WilderMA is Wilder's smoothing: avg = (avg*(w-1) + v) / w
func WilderMA(x []float64, w int) []float64 {
	return smooth(x, w, 1/float64(w))
}

// smooth seeds an exponential average with the simple mean of w
// consecutive valid values; a NaN input restarts the seed.
func smooth(x []float64, w int, alpha float64) []float64 {
	out := nans(len(x))
	if w <= 0 {
		return out
	}
	run := 0
	prev := math.NaN()
	for i, v := range x {
		if !valid(v) {
			run = 0
			prev = math.NaN()
			continue
		}
		run++
		switch {
		case run < w:
			continue
		case run == w:
			prev = stat.Mean(x[i-w+1:i+1], nil)
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

func hullSqrt(w int) int {
	n := int(math.Sqrt(float64(w)))
	if n < 1 {
		n = 1
	}
	return n
}

// HullMA = WMA(2*WMA(w/2) - WMA(w), sqrt(w))
func HullMA(x []float64, w int) []float64 {
	half := w / 2
	if half < 1 {
		half = 1
	}
	fast := WeightedMA(x, half)
	slow := WeightedMA(x, w)
	diff := make([]float64, len(x))
	for i := range diff {
		diff[i] = 2*fast[i] - slow[i]
	}
	return WeightedMA(diff, hullSqrt(w))
}

// DoubleEMA = 2*EMA - EMA(EMA)
func DoubleEMA(x []float64, w int) []float64 {
	e1 := ExponentialMA(x, w)
	e2 := ExponentialMA(e1, w)
	out := make([]float64, len(x))
	for i := range out {
		out[i] = 2*e1[i] - e2[i]
	}
	return out
}

// TripleEMA = 3*EMA - 3*EMA(EMA) + EMA(EMA(EMA))
func TripleEMA(x []float64, w int) []float64 {
	e1 := ExponentialMA(x, w)
	e2 := ExponentialMA(e1, w)
	e3 := ExponentialMA(e2, w)
	out := make([]float64, len(x))
	for i := range out {
		out[i] = 3*e1[i] - 3*e2[i] + e3[i]
	}
	return out
}

// KaufmanMA adapts its smoothing constant to the efficiency ratio over w
// bars, between 2 and 30 period EMA speeds.
func KaufmanMA(x []float64, w int) []float64 {
	out := nans(len(x))
	if w <= 0 {
		return out
	}
	prev := math.NaN()
	for i := w; i < len(x); i++ {
		ok := true
		volatility := 0.0
		for k := i - w + 1; k <= i; k++ {
			if !valid(x[k]) || !valid(x[k-1]) {
				ok = false
				break
			}
			volatility += math.Abs(x[k] - x[k-1])
		}
		if !ok {
			prev = math.NaN()
			continue
		}
		er := 0.0
		if volatility > 0 {
			er = math.Abs(x[i]-x[i-w]) / volatility
		}
		sc := math.Pow(er*(kamaFast-kamaSlow)+kamaSlow, 2)
		if math.IsNaN(prev) {
			prev = x[i-1]
		}
		prev += sc * (x[i] - prev)
		out[i] = prev
	}
	return out
}
