// Package backtest turns daily target allocations into an equity curve and
// summary metrics.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mExOms/quantree/pkg/types"
)

// ErrEmptyWindow is returned when a date window holds no allocations
var ErrEmptyWindow = errors.New("window contains no allocations")

// realizedAt is the table index at which a decision taken at the close of
// t has fully realized its holding period
func realizedAt(mode types.FillMode, t int) int {
	if mode == types.FillOpenToOpen {
		return t + 2
	}
	return t + 1
}

// periodReturn is the simple return of holding s for the period that
// follows a decision at t. Missing or zero prices give NaN.
func periodReturn(s *types.Series, mode types.FillMode, t int) float64 {
	var from, to float64
	switch mode {
	case types.FillCloseToOpen:
		from, to = s.Close[t], s.Open[t+1]
	case types.FillOpenToClose:
		from, to = s.Open[t+1], s.Close[t+1]
	case types.FillOpenToOpen:
		from, to = s.Open[t+1], s.Open[t+2]
	default:
		from, to = s.Close[t], s.Close[t+1]
	}
	if math.IsNaN(from) || math.IsNaN(to) || from == 0 {
		return math.NaN()
	}
	return to/from - 1
}

func sortedTickers(weights ...map[string]float64) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range weights {
		for t := range w {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

// turnover is the total absolute weight change between two allocations
func turnover(prev, next map[string]float64) float64 {
	sum := 0.0
	for _, t := range sortedTickers(prev, next) {
		sum += math.Abs(next[t] - prev[t])
	}
	return sum
}

func normalize(cfg Config) (Config, error) {
	if cfg.Mode == "" {
		cfg.Mode = types.FillCloseToClose
	}
	if !cfg.Mode.Valid() {
		return cfg, fmt.Errorf("unknown fill mode %q", cfg.Mode)
	}
	if cfg.CostBps < 0 || math.IsNaN(cfg.CostBps) {
		return cfg, fmt.Errorf("cost must be a non-negative number of basis points, got %v", cfg.CostBps)
	}
	return cfg, nil
}

// Simulate replays allocations against table. Weights decided at the close
// of each allocation date are held for the period defined by cfg.Mode;
// trading costs are charged on turnover when the period starts.
func Simulate(table *types.PriceTable, allocations []types.AllocationDay, cfg Config) (*Result, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Benchmark != "" {
		if _, ok := table.Get(cfg.Benchmark); !ok {
			return nil, fmt.Errorf("benchmark %s is not in the price table", cfg.Benchmark)
		}
	}

	result := &Result{Config: cfg, Allocations: allocations, table: table}
	result.EquityCurve, err = simulate(table, allocations, nil, cfg)
	if err != nil {
		return nil, err
	}
	result.Metrics = CalculateMetrics(firstDate(allocations), result.EquityCurve)
	return result, nil
}

func firstDate(allocations []types.AllocationDay) time.Time {
	if len(allocations) == 0 {
		return time.Time{}
	}
	return allocations[0].Date
}

// simulate runs the holding loop. prior is the allocation held before the
// first day; nil means cash.
func simulate(table *types.PriceTable, allocations []types.AllocationDay, prior map[string]float64, cfg Config) ([]EquityPoint, error) {
	rate := decimal.NewFromFloat(cfg.CostBps).Div(decimal.NewFromInt(10000)).InexactFloat64()

	var bench *types.Series
	if cfg.Benchmark != "" {
		bench, _ = table.Get(cfg.Benchmark)
	}

	curve := make([]EquityPoint, 0, len(allocations))
	prev := prior
	equity, peak := 1.0, 1.0
	for _, a := range allocations {
		t := table.SearchDate(a.Date)
		if t >= table.Len() || !table.Dates[t].Equal(a.Date) {
			return nil, fmt.Errorf("allocation date %s is not in the price table", a.Date.Format(types.DateLayout))
		}
		at := realizedAt(cfg.Mode, t)
		if at >= table.Len() {
			break
		}

		// Calculate gross period return
		gross := 0.0
		holdings := 0
		for _, ticker := range sortedTickers(a.Weights) {
			w := a.Weights[ticker]
			if w <= 0 {
				continue
			}
			holdings++
			s, ok := table.Get(ticker)
			if !ok {
				return nil, fmt.Errorf("ticker %s is not in the price table", ticker)
			}
			if r := periodReturn(s, cfg.Mode, t); !math.IsNaN(r) {
				gross += w * r
			}
		}

		// Charge costs on rebalancing
		traded := turnover(prev, a.Weights)
		r := gross - traded*rate

		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = 1 - equity/peak
		}

		benchReturn := math.NaN()
		if bench != nil {
			benchReturn = periodReturn(bench, cfg.Mode, t)
		}

		curve = append(curve, EquityPoint{
			Date:      table.Dates[at],
			Decision:  a.Date,
			Return:    r,
			Equity:    equity,
			Drawdown:  drawdown,
			Turnover:  traded,
			Holdings:  holdings,
			Benchmark: benchReturn,
		})
		prev = a.Weights
	}
	return curve, nil
}

// Window re-simulates the allocations decided within [from, to]. Zero
// bounds are open. The allocation held before from carries into the
// window, so the first day pays only for its own rebalancing.
func (r *Result) Window(from, to time.Time) (*Result, error) {
	var prior map[string]float64
	var sub []types.AllocationDay
	for _, a := range r.Allocations {
		if !from.IsZero() && a.Date.Before(from) {
			prior = a.Weights
			continue
		}
		if !to.IsZero() && a.Date.After(to) {
			break
		}
		sub = append(sub, a)
	}
	if len(sub) == 0 {
		return nil, ErrEmptyWindow
	}

	curve, err := simulate(r.table, sub, prior, r.Config)
	if err != nil {
		return nil, err
	}
	return &Result{
		Config:      r.Config,
		Allocations: sub,
		EquityCurve: curve,
		Metrics:     CalculateMetrics(sub[0].Date, curve),
		table:       r.table,
	}, nil
}

// Years lists the calendar years with at least one allocation
func (r *Result) Years() []int {
	var years []int
	for _, a := range r.Allocations {
		if y := a.Date.Year(); len(years) == 0 || years[len(years)-1] != y {
			years = append(years, y)
		}
	}
	return years
}

// YearlyMetrics simulates every calendar year separately
func (r *Result) YearlyMetrics() (map[int]types.Metrics, error) {
	out := make(map[int]types.Metrics)
	for _, y := range r.Years() {
		w, err := r.Window(yearStart(y), yearEnd(y))
		if err != nil {
			return nil, fmt.Errorf("failed to simulate %d: %w", y, err)
		}
		out[y] = w.Metrics
	}
	return out, nil
}

func yearStart(y int) time.Time {
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func yearEnd(y int) time.Time {
	return time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// YearRange bounds the allocations decided in years [first, last]
func YearRange(first, last int) (time.Time, time.Time) {
	return yearStart(first), yearEnd(last)
}
