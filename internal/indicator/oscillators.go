package indicator

import (
	"math"

	"github.com/mExOms/quantree/pkg/types"
	"gonum.org/v1/gonum/stat"
)

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	stochD     = 3
)

// WilderRSI seeds average gain and loss with the simple mean of the first
// w differences, then applies Wilder smoothing. RSI is 100 when the average
// loss is zero.
func WilderRSI(x []float64, w int) []float64 {
	out := nans(len(x))
	if w <= 0 {
		return out
	}
	var avgGain, avgLoss float64
	count := 0
	for i := 1; i < len(x); i++ {
		if !valid(x[i]) || !valid(x[i-1]) {
			count, avgGain, avgLoss = 0, 0, 0
			continue
		}
		d := x[i] - x[i-1]
		gain, loss := math.Max(d, 0), math.Max(-d, 0)
		count++
		if count <= w {
			avgGain += gain
			avgLoss += loss
			if count < w {
				continue
			}
			avgGain /= float64(w)
			avgLoss /= float64(w)
		} else {
			avgGain = (avgGain*float64(w-1) + gain) / float64(w)
			avgLoss = (avgLoss*float64(w-1) + loss) / float64(w)
		}
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StochasticK = 100 * (close - lowest low) / (highest high - lowest low)
func StochasticK(s *types.Series, w int) []float64 {
	hi, lo := highs(s), lows(s)
	out := nans(len(s.Close))
	for i := w - 1; i < len(s.Close); i++ {
		hh, ll, ok := extremes(hi, lo, i-w+1, i)
		if !ok || !valid(s.Close[i]) || hh == ll {
			continue
		}
		out[i] = 100 * (s.Close[i] - ll) / (hh - ll)
	}
	return out
}

// StochasticD is the 3-period SMA of %K
func StochasticD(s *types.Series, w int) []float64 {
	return SimpleMA(StochasticK(s, w), stochD)
}

func extremes(hi, lo []float64, from, to int) (float64, float64, bool) {
	hh, ll := math.Inf(-1), math.Inf(1)
	for k := from; k <= to; k++ {
		if !valid(hi[k]) || !valid(lo[k]) {
			return 0, 0, false
		}
		hh = math.Max(hh, hi[k])
		ll = math.Min(ll, lo[k])
	}
	return hh, ll, true
}

func typicalPrice(s *types.Series) []float64 {
	hi, lo := highs(s), lows(s)
	tp := make([]float64, len(s.Close))
	for i := range tp {
		tp[i] = (hi[i] + lo[i] + s.Close[i]) / 3
	}
	return tp
}

// CommodityChannelIndex = (TP - SMA(TP)) / (0.015 * mean deviation)
func CommodityChannelIndex(s *types.Series, w int) []float64 {
	tp := typicalPrice(s)
	return rolling(tp, w, func(win []float64) float64 {
		mean := stat.Mean(win, nil)
		dev := 0.0
		for _, v := range win {
			dev += math.Abs(v - mean)
		}
		dev /= float64(len(win))
		if dev == 0 {
			return math.NaN()
		}
		return (win[len(win)-1] - mean) / (0.015 * dev)
	})
}

// MoneyFlowIndex is the volume-weighted RSI of the typical price
func MoneyFlowIndex(s *types.Series, w int) []float64 {
	tp := typicalPrice(s)
	out := nans(len(tp))
	for i := w; i < len(tp); i++ {
		var pos, neg float64
		ok := true
		for k := i - w + 1; k <= i; k++ {
			if !valid(tp[k]) || !valid(tp[k-1]) || !valid(s.Volume[k]) {
				ok = false
				break
			}
			flow := tp[k] * s.Volume[k]
			switch {
			case tp[k] > tp[k-1]:
				pos += flow
			case tp[k] < tp[k-1]:
				neg += flow
			}
		}
		if !ok {
			continue
		}
		switch {
		case neg == 0 && pos == 0:
			out[i] = 50
		case neg == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+pos/neg)
		}
	}
	return out
}

func aroon(x []float64, w int, better func(a, b float64) bool) []float64 {
	out := nans(len(x))
	for i := w; i < len(x); i++ {
		best := i - w
		ok := true
		for k := i - w; k <= i; k++ {
			if !valid(x[k]) {
				ok = false
				break
			}
			if !better(x[best], x[k]) {
				best = k
			}
		}
		if !ok {
			continue
		}
		out[i] = 100 * float64(w-(i-best)) / float64(w)
	}
	return out
}

// AroonUpLine measures bars since the highest high over w+1 bars
func AroonUpLine(s *types.Series, w int) []float64 {
	return aroon(highs(s), w, func(a, b float64) bool { return a > b })
}

// AroonDownLine measures bars since the lowest low over w+1 bars
func AroonDownLine(s *types.Series, w int) []float64 {
	return aroon(lows(s), w, func(a, b float64) bool { return a < b })
}

func AroonOsc(s *types.Series, w int) []float64 {
	up, down := AroonUpLine(s, w), AroonDownLine(s, w)
	out := make([]float64, len(up))
	for i := range out {
		out[i] = up[i] - down[i]
	}
	return out
}

// MACDHist is MACD(12,26) minus its 9-period signal line
func MACDHist(x []float64) []float64 {
	fast, slow := ExponentialMA(x, macdFast), ExponentialMA(x, macdSlow)
	line := make([]float64, len(x))
	for i := range line {
		line[i] = fast[i] - slow[i]
	}
	return histogram(line)
}

// PPOHist is the percentage price oscillator minus its signal line
func PPOHist(x []float64) []float64 {
	fast, slow := ExponentialMA(x, macdFast), ExponentialMA(x, macdSlow)
	line := make([]float64, len(x))
	for i := range line {
		if slow[i] == 0 {
			line[i] = math.NaN()
			continue
		}
		line[i] = (fast[i] - slow[i]) / slow[i] * 100
	}
	return histogram(line)
}

func histogram(line []float64) []float64 {
	signal := ExponentialMA(line, macdSignal)
	out := make([]float64, len(line))
	for i := range out {
		out[i] = line[i] - signal[i]
	}
	return out
}
