// Package marketdata builds aligned price tables for strategy evaluation.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mExOms/quantree/pkg/types"
	"github.com/samber/lo"
)

// ErrNoCommonDates means the referenced tickers share no trading date
var ErrNoCommonDates = errors.New("no common dates across tickers")

// MissingTickerError names a referenced ticker the source does not have
type MissingTickerError struct {
	Ticker string
	Err    error
}

func (e *MissingTickerError) Error() string {
	return fmt.Sprintf("missing price history for %s: %v", e.Ticker, e.Err)
}

func (e *MissingTickerError) Unwrap() error { return e.Err }

// Range clips the aligned table; zero bounds are open
type Range struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

func (r Range) contains(d time.Time) bool {
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}

// SplitRatio splits a synthetic ratio ticker "A/B"
func SplitRatio(ticker string) (num, den string, ok bool) {
	num, den, ok = strings.Cut(ticker, "/")
	if !ok || num == "" || den == "" || strings.Contains(den, "/") {
		return "", "", false
	}
	return num, den, true
}

// BaseTickers expands ratio tickers into their components and returns the
// sorted distinct set of real tickers
func BaseTickers(tickers []string) []string {
	var out []string
	for _, t := range tickers {
		if num, den, ok := SplitRatio(t); ok {
			out = append(out, num, den)
			continue
		}
		out = append(out, t)
	}
	out = lo.Uniq(out)
	sort.Strings(out)
	return out
}

// CacheKey is the canonical key for an aligned table over tickers and r
func CacheKey(tickers []string, r Range) string {
	all := lo.Uniq(tickers)
	sort.Strings(all)
	bound := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(types.DateLayout)
	}
	return fmt.Sprintf("prices:%s:%s:%s", strings.Join(all, ","), bound(r.Start), bound(r.End))
}

// Aligner intersects ticker histories onto one date axis
type Aligner struct {
	source Source
}

// NewAligner creates an aligner reading from source
func NewAligner(source Source) *Aligner {
	return &Aligner{source: source}
}

// Align builds a table over the intersection of the real tickers' dates,
// clipped to r. Ratio tickers are synthesized on that axis and never
// narrow it.
func (a *Aligner) Align(tickers []string, r Range) (*types.PriceTable, error) {
	if len(tickers) == 0 {
		return nil, errors.New("no tickers to align")
	}

	base := BaseTickers(tickers)
	histories := make(map[string]*History, len(base))
	for _, t := range base {
		h, err := a.source.Load(t)
		if err != nil {
			return nil, &MissingTickerError{Ticker: t, Err: err}
		}
		if err := h.Validate(); err != nil {
			return nil, fmt.Errorf("invalid history: %w", err)
		}
		histories[t] = h
	}

	dates := intersect(base, histories, r)
	if len(dates) == 0 {
		return nil, ErrNoCommonDates
	}

	table := &types.PriceTable{
		Dates:  dates,
		Series: make(map[string]*types.Series, len(tickers)),
	}
	for _, t := range base {
		table.Series[t] = project(histories[t], dates)
	}
	for _, t := range tickers {
		if num, den, ok := SplitRatio(t); ok {
			table.Series[t] = Ratio(t, table.Series[num], table.Series[den])
		}
	}
	return table, nil
}

// intersect returns the dates where every ticker has a finite close
func intersect(tickers []string, histories map[string]*History, r Range) []time.Time {
	counts := make(map[time.Time]int)
	for _, t := range tickers {
		h := histories[t]
		for i, d := range h.Dates {
			if isFinite(h.Close[i]) {
				counts[types.Day(d)]++
			}
		}
	}
	var dates []time.Time
	for d, n := range counts {
		if n == len(tickers) && r.contains(d) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func project(h *History, dates []time.Time) *types.Series {
	index := make(map[time.Time]int, len(h.Dates))
	for i, d := range h.Dates {
		index[types.Day(d)] = i
	}
	pick := func(col []float64) []float64 {
		if col == nil {
			return nil
		}
		out := make([]float64, len(dates))
		for i, d := range dates {
			out[i] = col[index[d]]
		}
		return out
	}
	return &types.Series{
		Ticker: h.Ticker,
		Open:   pick(h.Open),
		High:   pick(h.High),
		Low:    pick(h.Low),
		Close:  pick(h.Close),
		Volume: pick(h.Volume),
	}
}

// Ratio divides num by den field by field. A missing or zero side yields
// NaN. Volume is not defined for ratios.
func Ratio(ticker string, num, den *types.Series) *types.Series {
	div := func(a, b []float64) []float64 {
		if a == nil || b == nil {
			return nil
		}
		out := make([]float64, len(a))
		for i := range out {
			if !isFinite(a[i]) || !isFinite(b[i]) || b[i] == 0 || a[i] == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = a[i] / b[i]
		}
		return out
	}
	s := &types.Series{
		Ticker: ticker,
		Open:   div(num.Open, den.Open),
		Close:  div(num.Close, den.Close),
	}
	// high/low of a ratio is only bounded by these when both legs carry them
	if num.High != nil && den.Low != nil && num.Low != nil && den.High != nil {
		s.High = div(num.High, den.Low)
		s.Low = div(num.Low, den.High)
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
