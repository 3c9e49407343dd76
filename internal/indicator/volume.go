package indicator

import (
	"math"

	"github.com/mExOms/quantree/pkg/types"
)

// onBalanceVolume accumulates signed volume; a gap restarts it at zero
func onBalanceVolume(s *types.Series) []float64 {
	obv := nans(len(s.Close))
	level := math.NaN()
	for i := range obv {
		if !valid(s.Close[i]) || !valid(s.Volume[i]) {
			level = math.NaN()
			continue
		}
		if math.IsNaN(level) || i == 0 || !valid(s.Close[i-1]) {
			level = 0
		} else {
			switch {
			case s.Close[i] > s.Close[i-1]:
				level += s.Volume[i]
			case s.Close[i] < s.Close[i-1]:
				level -= s.Volume[i]
			}
		}
		obv[i] = level
	}
	return obv
}

// OBVRoc is the percent change of on-balance volume over w bars
func OBVRoc(s *types.Series, w int) []float64 {
	obv := onBalanceVolume(s)
	out := nans(len(obv))
	for i := w; i < len(obv); i++ {
		base := obv[i-w]
		if valid(obv[i]) && valid(base) && base != 0 {
			out[i] = (obv[i] - base) / math.Abs(base) * 100
		}
	}
	return out
}

// VWAPRatioLine is close divided by the rolling w-bar VWAP
func VWAPRatioLine(s *types.Series, w int) []float64 {
	tp := typicalPrice(s)
	out := nans(len(tp))
	for i := w - 1; i < len(tp); i++ {
		var pv, vol float64
		ok := true
		for k := i - w + 1; k <= i; k++ {
			if !valid(tp[k]) || !valid(s.Volume[k]) {
				ok = false
				break
			}
			pv += tp[k] * s.Volume[k]
			vol += s.Volume[k]
		}
		if !ok || vol == 0 || !valid(s.Close[i]) {
			continue
		}
		out[i] = s.Close[i] / (pv / vol)
	}
	return out
}
