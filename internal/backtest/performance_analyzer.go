package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/mExOms/quantree/pkg/types"
)

const daysPerYear = 365.25

// CalculateMetrics summarizes an equity curve that starts at 1.0 on start.
// Start and End are decision dates, so adjacent windows never share a
// bound. CAGR runs over the holding period, which closes on the last
// realized date.
func CalculateMetrics(start time.Time, curve []EquityPoint) types.Metrics {
	m := types.EmptyMetrics()
	m.Start = start
	if len(curve) == 0 {
		m.End = start
		return m
	}
	last := curve[len(curve)-1]
	m.End = last.Decision
	m.TradingDays = len(curve)

	returns := make([]float64, len(curve))
	turnovers := make([]float64, len(curve))
	holdings := make([]float64, len(curve))
	wins := 0
	for i, p := range curve {
		returns[i] = p.Return
		turnovers[i] = p.Turnover
		holdings[i] = float64(p.Holdings)
		if p.Return > 0 {
			wins++
		}
	}

	m.CAGR = types.Num(CalculateCAGR(last.Equity, start, last.Date))
	m.MaxDrawdown = types.Num(CalculateMaxDrawdown(curve))
	if m.MaxDrawdown.Defined() && m.MaxDrawdown > 0 {
		m.Calmar = types.Num(m.CAGR.Float() / m.MaxDrawdown.Float())
	}
	m.Sharpe = types.Num(CalculateSharpeRatio(returns, 0))
	m.Sortino = types.Num(CalculateSortinoRatio(returns, 0))
	if len(returns) > 1 {
		m.Volatility = types.Num(stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear))
	}
	m.WinRate = types.Num(float64(wins) / float64(len(curve)))
	m.AvgTurnover = types.Num(stat.Mean(turnovers, nil))
	m.AvgHoldings = types.Num(stat.Mean(holdings, nil))

	if beta := CalculateBeta(curve); beta != 0 {
		m.Treynor = types.Num(m.CAGR.Float() / beta)
	}
	return m
}

// CalculateCAGR annualizes growth to final equity over calendar time.
// A wiped-out account reports -100%.
func CalculateCAGR(final float64, start, end time.Time) float64 {
	years := end.Sub(start).Hours() / 24 / daysPerYear
	if years <= 0 {
		return math.NaN()
	}
	if final <= 0 {
		return -1
	}
	return math.Pow(final, 1/years) - 1
}

// CalculateMaxDrawdown returns the deepest peak-to-trough loss as a fraction
func CalculateMaxDrawdown(curve []EquityPoint) float64 {
	maxDrawdown := 0.0
	for _, p := range curve {
		if p.Drawdown > maxDrawdown {
			maxDrawdown = p.Drawdown
		}
	}
	return maxDrawdown
}

// CalculateSharpeRatio annualizes the mean excess daily return over its
// sample deviation
func CalculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}

	avgReturn, stdDev := stat.MeanStdDev(returns, nil)
	if stdDev == 0 {
		return math.NaN()
	}

	// Annualized Sharpe ratio (assuming daily returns)
	excessReturn := avgReturn - riskFreeRate/TradingDaysPerYear
	return (excessReturn / stdDev) * math.Sqrt(TradingDaysPerYear)
}

// CalculateSortinoRatio is Sharpe with downside deviation below target
func CalculateSortinoRatio(returns []float64, targetReturn float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}
	avgReturn := stat.Mean(returns, nil)

	// Calculate downside deviation
	sumSquaredDownside := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < targetReturn {
			diff := r - targetReturn
			sumSquaredDownside += diff * diff
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return math.NaN()
	}

	downsideDev := math.Sqrt(sumSquaredDownside / float64(downsideCount))
	if downsideDev == 0 {
		return math.NaN()
	}

	excessReturn := avgReturn - targetReturn/TradingDaysPerYear
	return (excessReturn / downsideDev) * math.Sqrt(TradingDaysPerYear)
}

// CalculateBeta regresses strategy returns on benchmark returns over the
// periods where the benchmark is defined. Zero means no usable benchmark.
func CalculateBeta(curve []EquityPoint) float64 {
	var strat, bench []float64
	for _, p := range curve {
		if math.IsNaN(p.Benchmark) {
			continue
		}
		strat = append(strat, p.Return)
		bench = append(bench, p.Benchmark)
	}
	if len(bench) < 2 {
		return 0
	}
	variance := stat.Variance(bench, nil)
	if variance == 0 {
		return 0
	}
	return stat.Covariance(strat, bench, nil) / variance
}
