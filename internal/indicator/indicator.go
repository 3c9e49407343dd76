// Package indicator holds pure rolling-window computations over price series.
//
// Every function returns a slice as long as its input with NaN wherever the
// value is undefined (insufficient history, missing input, division by zero).
// Callers treat NaN as "not ready"; it is never an error.
package indicator

import (
	"fmt"
	"math"
	"sort"

	"github.com/mExOms/quantree/pkg/types"
)

// Metric names accepted by Compute
const (
	CurrentPrice        = "current_price"
	SMA                 = "sma"
	EMA                 = "ema"
	WMA                 = "wma"
	HMA                 = "hma"
	DEMA                = "dema"
	TEMA                = "tema"
	KAMA                = "kama"
	RSI                 = "rsi"
	Momentum13612W      = "momentum_13612w"
	CumulativeReturn    = "cumulative_return"
	MovingAverageReturn = "moving_average_return"
	StdevReturn         = "stdev_return"
	StdevPrice          = "stdev_price"
	Drawdown            = "drawdown"
	MaxDrawdown         = "max_drawdown"
	ATR                 = "atr"
	ATRPercent          = "atr_percent"
	BollingerPercentB   = "bb_percent_b"
	BollingerWidth      = "bb_width"
	StochK              = "stoch_k"
	StochD              = "stoch_d"
	CCI                 = "cci"
	ADX                 = "adx"
	AroonUp             = "aroon_up"
	AroonDown           = "aroon_down"
	AroonOscillator     = "aroon_oscillator"
	MACDHistogram       = "macd_histogram"
	PPOHistogram        = "ppo_histogram"
	MFI                 = "mfi"
	OBVRateOfChange     = "obv_roc"
	VWAPRatio           = "vwap_ratio"
	LinRegSlope         = "linreg_slope"
	LinRegR2            = "linreg_r2"
)

var aliases = map[string]string{
	"moving_average_price":       SMA,
	"simple_moving_average":      SMA,
	"exponential_moving_average": EMA,
	"relative_strength_index":    RSI,
	"price":                      CurrentPrice,
}

type definition struct {
	compute  func(s *types.Series, window int) []float64
	lookback func(window int) int
	windowed bool
	volume   bool
}

func closes(f func(x []float64, w int) []float64) func(*types.Series, int) []float64 {
	return func(s *types.Series, w int) []float64 { return f(s.Close, w) }
}

func minus(k int) func(int) int { return func(w int) int { return w - k } }

func fixed(n int) func(int) int { return func(int) int { return n } }

var registry = map[string]definition{
	CurrentPrice: {compute: func(s *types.Series, _ int) []float64 { return append([]float64(nil), s.Close...) }, lookback: fixed(0)},
	SMA:          {compute: closes(SimpleMA), lookback: minus(1), windowed: true},
	EMA:          {compute: closes(ExponentialMA), lookback: minus(1), windowed: true},
	WMA:          {compute: closes(WeightedMA), lookback: minus(1), windowed: true},
	HMA: {compute: closes(HullMA), windowed: true, lookback: func(w int) int {
		return (w - 1) + (hullSqrt(w) - 1)
	}},
	DEMA:                {compute: closes(DoubleEMA), lookback: func(w int) int { return 2 * (w - 1) }, windowed: true},
	TEMA:                {compute: closes(TripleEMA), lookback: func(w int) int { return 3 * (w - 1) }, windowed: true},
	KAMA:                {compute: closes(KaufmanMA), lookback: minus(0), windowed: true},
	RSI:                 {compute: closes(WilderRSI), lookback: minus(0), windowed: true},
	Momentum13612W:      {compute: func(s *types.Series, _ int) []float64 { return Momentum(s.Close) }, lookback: fixed(252)},
	CumulativeReturn:    {compute: closes(CumulativeReturns), lookback: minus(0), windowed: true},
	MovingAverageReturn: {compute: closes(AverageReturns), lookback: minus(0), windowed: true},
	StdevReturn:         {compute: closes(ReturnStdev), lookback: minus(0), windowed: true},
	StdevPrice:          {compute: closes(PriceStdev), lookback: minus(1), windowed: true},
	Drawdown:            {compute: closes(CurrentDrawdown), lookback: minus(1), windowed: true},
	MaxDrawdown:         {compute: closes(WindowMaxDrawdown), lookback: minus(1), windowed: true},
	ATR:                 {compute: AverageTrueRange, lookback: minus(0), windowed: true},
	ATRPercent:          {compute: AverageTrueRangePercent, lookback: minus(0), windowed: true},
	BollingerPercentB:   {compute: closes(BollingerB), lookback: minus(1), windowed: true},
	BollingerWidth:      {compute: closes(BollingerBandwidth), lookback: minus(1), windowed: true},
	StochK:              {compute: StochasticK, lookback: minus(1), windowed: true},
	StochD:              {compute: StochasticD, lookback: func(w int) int { return w + 1 }, windowed: true},
	CCI:                 {compute: CommodityChannelIndex, lookback: minus(1), windowed: true},
	ADX:                 {compute: AverageDirectionalIndex, lookback: func(w int) int { return 2*w - 1 }, windowed: true},
	AroonUp:             {compute: AroonUpLine, lookback: minus(0), windowed: true},
	AroonDown:           {compute: AroonDownLine, lookback: minus(0), windowed: true},
	AroonOscillator:     {compute: AroonOsc, lookback: minus(0), windowed: true},
	MACDHistogram:       {compute: func(s *types.Series, _ int) []float64 { return MACDHist(s.Close) }, lookback: fixed(macdSlow - 1 + macdSignal - 1)},
	PPOHistogram:        {compute: func(s *types.Series, _ int) []float64 { return PPOHist(s.Close) }, lookback: fixed(macdSlow - 1 + macdSignal - 1)},
	MFI:                 {compute: MoneyFlowIndex, lookback: minus(0), windowed: true, volume: true},
	OBVRateOfChange:     {compute: OBVRoc, lookback: minus(0), windowed: true, volume: true},
	VWAPRatio:           {compute: VWAPRatioLine, lookback: minus(1), windowed: true, volume: true},
	LinRegSlope:         {compute: closes(RegressionSlope), lookback: minus(1), windowed: true},
	LinRegR2:            {compute: closes(RegressionR2), lookback: minus(1), windowed: true},
}

// Canonical resolves aliases to the registered metric name
func Canonical(metric string) string {
	if c, ok := aliases[metric]; ok {
		return c
	}
	return metric
}

// Known reports whether metric names a registered indicator
func Known(metric string) bool {
	_, ok := registry[Canonical(metric)]
	return ok
}

// Metrics lists the registered metric names
func Metrics() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookback returns the index of the first value metric can define on a
// gap-free series
func Lookback(metric string, window int) (int, error) {
	def, err := lookup(metric, window)
	if err != nil {
		return 0, err
	}
	n := def.lookback(window)
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Compute evaluates metric over s
func Compute(s *types.Series, metric string, window int) ([]float64, error) {
	def, err := lookup(metric, window)
	if err != nil {
		return nil, err
	}
	if def.volume && s.Volume == nil {
		return nans(len(s.Close)), nil
	}
	return def.compute(s, window), nil
}

func lookup(metric string, window int) (definition, error) {
	def, ok := registry[Canonical(metric)]
	if !ok {
		return definition{}, fmt.Errorf("unknown metric %q", metric)
	}
	if def.windowed && window < 1 {
		return definition{}, fmt.Errorf("metric %s requires a window >= 1, got %d", metric, window)
	}
	return def, nil
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// rolling applies fn to every full window of w values that holds no NaN
func rolling(x []float64, w int, fn func(win []float64) float64) []float64 {
	out := nans(len(x))
	if w <= 0 {
		return out
	}
	bad := 0
	for i := range x {
		if !valid(x[i]) {
			bad++
		}
		if i >= w && !valid(x[i-w]) {
			bad--
		}
		if i >= w-1 && bad == 0 {
			out[i] = fn(x[i-w+1 : i+1])
		}
	}
	return out
}

// highs falls back to max(open, close) when the source has no highs
func highs(s *types.Series) []float64 {
	if s.High != nil {
		return s.High
	}
	out := make([]float64, len(s.Close))
	for i := range out {
		out[i] = math.Max(s.Open[i], s.Close[i])
	}
	return out
}

func lows(s *types.Series) []float64 {
	if s.Low != nil {
		return s.Low
	}
	out := make([]float64, len(s.Close))
	for i := range out {
		out[i] = math.Min(s.Open[i], s.Close[i])
	}
	return out
}
