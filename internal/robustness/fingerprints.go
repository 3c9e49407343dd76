package robustness

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/pkg/types"
)

// Level grades a fingerprint
type Level string

const (
	LevelLow     Level = "Low"
	LevelMedium  Level = "Medium"
	LevelHigh    Level = "High"
	LevelUnknown Level = "Unknown"
)

// Fingerprint names
const (
	FingerprintHistoryLength       = "history_length"
	FingerprintTurnover            = "turnover"
	FingerprintConcentration       = "concentration"
	FingerprintDrawdownRecovery    = "drawdown_recovery"
	FingerprintSubPeriodStability  = "sub_period_stability"
	FingerprintProfitConcentration = "profit_concentration"
	FingerprintSmoothness          = "smoothness"
	FingerprintTradeRemoval        = "trade_removal_sensitivity"
)

// Fingerprint is one fragility heuristic's verdict
type Fingerprint struct {
	Name   string       `json:"name"`
	Level  Level        `json:"level"`
	Value  types.Number `json:"value"`
	Detail string       `json:"detail"`
}

// above grades v against ascending high-risk thresholds: v > high is High,
// v > medium is Medium
func above(v, medium, high float64) Level {
	switch {
	case v > high:
		return LevelHigh
	case v > medium:
		return LevelMedium
	}
	return LevelLow
}

// below grades v where small values are risky
func below(v, high, medium float64) Level {
	switch {
	case v < high:
		return LevelHigh
	case v < medium:
		return LevelMedium
	}
	return LevelLow
}

func unknown(name, detail string) Fingerprint {
	return Fingerprint{Name: name, Level: LevelUnknown, Value: types.Undefined(), Detail: detail}
}

func fingerprints(series ReturnSeries, full Sample, folds []Sample) []Fingerprint {
	returns := series.Returns
	return []Fingerprint{
		historyLength(returns),
		turnover(series.Turnover),
		concentration(series.Holdings),
		drawdownRecovery(returns),
		subPeriodStability(returns),
		profitConcentration(returns),
		smoothness(returns),
		tradeRemoval(full, folds),
	}
}

// historyLength: under 3 years High, under 7 Medium
func historyLength(returns []float64) Fingerprint {
	years := float64(len(returns)) / backtest.TradingDaysPerYear
	return Fingerprint{
		Name:   FingerprintHistoryLength,
		Level:  below(years, 3, 7),
		Value:  types.Num(years),
		Detail: fmt.Sprintf("%.1f years of daily returns", years),
	}
}

// turnover: average daily turnover above 0.20 High, above 0.05 Medium
func turnover(values []float64) Fingerprint {
	if len(values) == 0 {
		return unknown(FingerprintTurnover, "no turnover recorded")
	}
	avg := stat.Mean(values, nil)
	return Fingerprint{
		Name:   FingerprintTurnover,
		Level:  above(avg, 0.05, 0.20),
		Value:  types.Num(avg),
		Detail: fmt.Sprintf("average daily turnover %.3f", avg),
	}
}

// concentration: average holdings under 2 High, under 4 Medium
func concentration(holdings []int) Fingerprint {
	if len(holdings) == 0 {
		return unknown(FingerprintConcentration, "no holdings recorded")
	}
	avg := float64(lo.Sum(holdings)) / float64(len(holdings))
	return Fingerprint{
		Name:   FingerprintConcentration,
		Level:  below(avg, 2, 4),
		Value:  types.Num(avg),
		Detail: fmt.Sprintf("%.2f positions held on average", avg),
	}
}

// drawdownRecovery: longest underwater stretch over 504 trading days High,
// over 252 Medium
func drawdownRecovery(returns []float64) Fingerprint {
	equity, peak := 1.0, 1.0
	longest, current := 0, 0
	for _, r := range returns {
		equity *= 1 + r
		if equity >= peak {
			peak = equity
			current = 0
			continue
		}
		current++
		longest = max(longest, current)
	}
	return Fingerprint{
		Name:   FingerprintDrawdownRecovery,
		Level:  above(float64(longest), 252, 504),
		Value:  types.Num(float64(longest)),
		Detail: fmt.Sprintf("longest time under water %d trading days", longest),
	}
}

// subPeriodStability: of four equal sub-periods, two or more losing High,
// one Medium
func subPeriodStability(returns []float64) Fingerprint {
	const parts = 4
	if len(returns) < parts {
		return unknown(FingerprintSubPeriodStability, "fewer days than sub-periods")
	}
	losing := 0
	size := len(returns) / parts
	for i := 0; i < parts; i++ {
		end := (i + 1) * size
		if i == parts-1 {
			end = len(returns)
		}
		if measure(returns[i*size:end]).CAGR.Float() < 0 {
			losing++
		}
	}
	level := LevelLow
	switch {
	case losing >= 2:
		level = LevelHigh
	case losing == 1:
		level = LevelMedium
	}
	return Fingerprint{
		Name:   FingerprintSubPeriodStability,
		Level:  level,
		Value:  types.Num(float64(losing)),
		Detail: fmt.Sprintf("%d of %d sub-periods lost money", losing, parts),
	}
}

// profitConcentration: the ten best days' share of total log growth. A
// share of 1 or more, or no growth at all, is High; 0.5 or more Medium.
func profitConcentration(returns []float64) Fingerprint {
	logs := make([]float64, len(returns))
	total := 0.0
	for i, r := range returns {
		logs[i] = math.Log1p(r)
		total += logs[i]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(logs)))
	top := 0.0
	for _, v := range logs[:min(10, len(logs))] {
		top += v
	}

	if total <= 0 {
		return Fingerprint{
			Name:   FingerprintProfitConcentration,
			Level:  LevelHigh,
			Value:  types.Undefined(),
			Detail: "no net growth to attribute",
		}
	}
	share := top / total
	level := LevelLow
	switch {
	case share >= 1:
		level = LevelHigh
	case share >= 0.5:
		level = LevelMedium
	}
	return Fingerprint{
		Name:   FingerprintProfitConcentration,
		Level:  level,
		Value:  types.Num(share),
		Detail: fmt.Sprintf("top 10 days carry %.0f%% of growth", share*100),
	}
}

// smoothness: R² of a straight line through log equity, under 0.80 High,
// under 0.95 Medium
func smoothness(returns []float64) Fingerprint {
	if len(returns) < 3 {
		return unknown(FingerprintSmoothness, "too few points to fit")
	}
	xs := make([]float64, len(returns))
	ys := make([]float64, len(returns))
	logEquity := 0.0
	for i, r := range returns {
		logEquity += math.Log1p(r)
		xs[i] = float64(i)
		ys[i] = logEquity
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		// a flat curve fits its line exactly
		r2 = 1
	}
	return Fingerprint{
		Name:   FingerprintSmoothness,
		Level:  below(r2, 0.80, 0.95),
		Value:  types.Num(r2),
		Detail: fmt.Sprintf("log-equity R² %.3f", r2),
	}
}

// tradeRemoval: share of K-fold CAGRs below half the full CAGR, above 0.25
// High, above 0.10 Medium
func tradeRemoval(full Sample, folds []Sample) Fingerprint {
	if len(folds) == 0 || !full.CAGR.Defined() {
		return unknown(FingerprintTradeRemoval, "no folds")
	}
	half := full.CAGR.Float() / 2
	n := lo.CountBy(folds, func(s Sample) bool { return s.CAGR.Float() < half })
	share := float64(n) / float64(len(folds))
	return Fingerprint{
		Name:   FingerprintTradeRemoval,
		Level:  above(share, 0.10, 0.25),
		Value:  types.Num(share),
		Detail: fmt.Sprintf("%d of %d folds fall below half the full CAGR", n, len(folds)),
	}
}
