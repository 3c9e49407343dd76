package marketdata

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/mExOms/quantree/pkg/types"
)

// TradingDays returns n consecutive weekdays starting at start
func TradingDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := types.Day(start)
	for len(out) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// RandomWalk generates a reproducible geometric random walk of daily bars.
// drift and vol are per-day log-return mean and deviation.
func RandomWalk(ticker string, start time.Time, days int, seed int64, drift, vol float64) *History {
	rng := rand.New(rand.NewSource(seed))
	h := &History{
		Ticker: ticker,
		Dates:  TradingDays(start, days),
		Open:   make([]float64, days),
		High:   make([]float64, days),
		Low:    make([]float64, days),
		Close:  make([]float64, days),
		Volume: make([]float64, days),
	}
	price := 100.0
	for i := 0; i < days; i++ {
		open := price * math.Exp(rng.NormFloat64()*vol/4)
		price *= math.Exp(drift + rng.NormFloat64()*vol)
		h.Open[i] = open
		h.Close[i] = price
		h.High[i] = math.Max(open, price) * (1 + math.Abs(rng.NormFloat64())*vol/2)
		h.Low[i] = math.Min(open, price) * (1 - math.Abs(rng.NormFloat64())*vol/2)
		h.Volume[i] = math.Round(1e6 * (1 + rng.Float64()))
	}
	return h
}

// TableFromCloses builds an aligned table of close-only series on weekdays
// from start. Opens equal closes. Every slice must have the same length.
func TableFromCloses(start time.Time, closes map[string][]float64) *types.PriceTable {
	n := 0
	tickers := make([]string, 0, len(closes))
	for t, c := range closes {
		tickers = append(tickers, t)
		n = max(n, len(c))
	}
	sort.Strings(tickers)

	table := &types.PriceTable{Dates: TradingDays(start, n), Series: make(map[string]*types.Series, len(closes))}
	for _, t := range tickers {
		c := append([]float64(nil), closes[t]...)
		table.Series[t] = &types.Series{Ticker: t, Open: append([]float64(nil), c...), Close: c}
	}
	return table
}

// SyntheticTable aligns one random walk per ticker, seeding each ticker
// from seed plus its position
func SyntheticTable(start time.Time, days int, seed int64, tickers ...string) (*types.PriceTable, error) {
	src := NewMemorySource()
	for i, t := range tickers {
		src.Add(RandomWalk(t, start, days, seed+int64(i), 0.0003, 0.01))
	}
	return NewAligner(src).Align(tickers, Range{})
}
