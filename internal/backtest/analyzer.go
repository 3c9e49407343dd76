package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mExOms/quantree/pkg/types"
)

// ResultAnalyzer derives report sections from a simulation result
type ResultAnalyzer struct {
	result *Result
}

// NewResultAnalyzer creates a new result analyzer
func NewResultAnalyzer(result *Result) *ResultAnalyzer {
	return &ResultAnalyzer{
		result: result,
	}
}

// Report contains the human-facing analysis of one result
type Report struct {
	Summary        *SummarySection `json:"summary"`
	Risk           *RiskSection    `json:"risk"`
	MonthlyReturns []MonthlyReturn `json:"monthly_returns"`
}

// SummarySection contains headline statistics
type SummarySection struct {
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	Duration        string          `json:"duration"`
	FinalEquity     decimal.Decimal `json:"final_equity"`
	TotalReturnPct  string          `json:"total_return_pct"`
	CAGR            string          `json:"cagr"`
	MaxDrawdown     string          `json:"max_drawdown"`
	MaxDrawdownDays int             `json:"max_drawdown_days"`
	Sharpe          types.Number    `json:"sharpe"`
	Sortino         types.Number    `json:"sortino"`
	Calmar          types.Number    `json:"calmar"`
	TradingDays     int             `json:"trading_days"`
}

// RiskSection contains tail and drawdown statistics
type RiskSection struct {
	ValueAtRisk95     decimal.Decimal  `json:"var_95"`
	ValueAtRisk99     decimal.Decimal  `json:"var_99"`
	ExpectedShortfall decimal.Decimal  `json:"expected_shortfall"`
	Volatility        decimal.Decimal  `json:"volatility"`
	DownsideDeviation decimal.Decimal  `json:"downside_deviation"`
	UlcerIndex        decimal.Decimal  `json:"ulcer_index"`
	BestMonth         MonthlyReturn    `json:"best_month"`
	WorstMonth        MonthlyReturn    `json:"worst_month"`
	DrawdownPeriods   []DrawdownPeriod `json:"drawdown_periods"`
}

// GenerateReport generates a comprehensive report
func (ra *ResultAnalyzer) GenerateReport() *Report {
	monthly := ra.MonthlyReturns()
	return &Report{
		Summary:        ra.generateSummary(),
		Risk:           ra.analyzeRisk(monthly),
		MonthlyReturns: monthly,
	}
}

func percent(n types.Number) string {
	if !n.Defined() {
		return "n/a"
	}
	return decimal.NewFromFloat(n.Float()).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func (ra *ResultAnalyzer) generateSummary() *SummarySection {
	m := ra.result.Metrics
	final := 1.0
	if n := len(ra.result.EquityCurve); n > 0 {
		final = ra.result.EquityCurve[n-1].Equity
	}

	return &SummarySection{
		StartDate:       m.Start,
		EndDate:         m.End,
		Duration:        fmt.Sprintf("%.1f years", m.End.Sub(m.Start).Hours()/24/daysPerYear),
		FinalEquity:     decimal.NewFromFloat(final).Round(6),
		TotalReturnPct:  percent(types.Num(final - 1)),
		CAGR:            percent(m.CAGR),
		MaxDrawdown:     percent(m.MaxDrawdown),
		MaxDrawdownDays: ra.LongestDrawdownDays(),
		Sharpe:          m.Sharpe,
		Sortino:         m.Sortino,
		Calmar:          m.Calmar,
		TradingDays:     m.TradingDays,
	}
}

func (ra *ResultAnalyzer) analyzeRisk(monthly []MonthlyReturn) *RiskSection {
	returns := ra.result.Returns()
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	// Calculate VaR (Value at Risk)
	var95Index := int(float64(len(sorted)) * 0.05)
	var99Index := int(float64(len(sorted)) * 0.01)

	var95 := decimal.Zero
	var99 := decimal.Zero
	if var95Index < len(sorted) {
		var95 = decimal.NewFromFloat(math.Abs(sorted[var95Index]))
	}
	if var99Index < len(sorted) {
		var99 = decimal.NewFromFloat(math.Abs(sorted[var99Index]))
	}

	// Expected Shortfall (average of returns below VaR)
	expectedShortfall := decimal.Zero
	if var95Index > 0 {
		sum := 0.0
		for i := 0; i < var95Index; i++ {
			sum += sorted[i]
		}
		expectedShortfall = decimal.NewFromFloat(math.Abs(sum / float64(var95Index)))
	}

	section := &RiskSection{
		ValueAtRisk95:     var95.Round(6),
		ValueAtRisk99:     var99.Round(6),
		ExpectedShortfall: expectedShortfall.Round(6),
		Volatility:        decimal.NewFromFloat(finite(ra.result.Metrics.Volatility.Float())).Round(6),
		DownsideDeviation: decimal.NewFromFloat(downsideDeviation(returns)).Round(6),
		UlcerIndex:        ra.UlcerIndex().Round(6),
		DrawdownPeriods:   ra.DrawdownPeriods(),
	}

	// Find best/worst months
	if len(monthly) > 0 {
		section.BestMonth, section.WorstMonth = monthly[0], monthly[0]
		for _, mr := range monthly {
			if mr.Return.GreaterThan(section.BestMonth.Return) {
				section.BestMonth = mr
			}
			if mr.Return.LessThan(section.WorstMonth.Return) {
				section.WorstMonth = mr
			}
		}
	}
	return section
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// downsideDeviation is the annualized root mean square of negative returns
func downsideDeviation(returns []float64) float64 {
	sum, n := 0.0, 0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum/float64(n)) * math.Sqrt(TradingDaysPerYear)
}

// MonthlyReturns compounds realized returns by calendar month of realization
func (ra *ResultAnalyzer) MonthlyReturns() []MonthlyReturn {
	var out []MonthlyReturn
	for _, p := range ra.result.EquityCurve {
		month := p.Date.Format("2006-01")
		if len(out) == 0 || out[len(out)-1].Month != month {
			out = append(out, MonthlyReturn{Month: month, Return: decimal.Zero})
		}
		last := &out[len(out)-1]
		growth := last.Return.Add(decimal.NewFromInt(1)).Mul(decimal.NewFromFloat(1 + p.Return))
		last.Return = growth.Sub(decimal.NewFromInt(1))
	}
	for i := range out {
		out[i].Return = out[i].Return.Round(6)
	}
	return out
}

// LongestDrawdownDays is the longest run of trading days below a prior peak
func (ra *ResultAnalyzer) LongestDrawdownDays() int {
	maxDays := 0
	currentDays := 0
	for _, p := range ra.result.EquityCurve {
		if p.Drawdown <= 0 {
			currentDays = 0
			continue
		}
		currentDays++
		if currentDays > maxDays {
			maxDays = currentDays
		}
	}
	return maxDays
}

// UlcerIndex is the root mean square of percentage drawdowns
func (ra *ResultAnalyzer) UlcerIndex() decimal.Decimal {
	curve := ra.result.EquityCurve
	if len(curve) == 0 {
		return decimal.Zero
	}
	sumSquares := 0.0
	for _, p := range curve {
		dd := p.Drawdown * 100
		sumSquares += dd * dd
	}
	return decimal.NewFromFloat(math.Sqrt(sumSquares / float64(len(curve))))
}

// DrawdownPeriods lists every stretch below a previous peak. Duration is in
// calendar days; an unrecovered final period ends on the last date.
func (ra *ResultAnalyzer) DrawdownPeriods() []DrawdownPeriod {
	var periods []DrawdownPeriod
	var current *DrawdownPeriod
	curve := ra.result.EquityCurve

	for _, p := range curve {
		if p.Drawdown <= 0 {
			// End of drawdown
			if current != nil {
				current.EndDate = p.Date
				current.Duration = int(current.EndDate.Sub(current.StartDate).Hours() / 24)
				current.Recovery = true
				periods = append(periods, *current)
				current = nil
			}
			continue
		}

		dd := decimal.NewFromFloat(p.Drawdown).Round(6)
		if current == nil {
			current = &DrawdownPeriod{StartDate: p.Date, MaxDrawdown: dd}
		} else if dd.GreaterThan(current.MaxDrawdown) {
			current.MaxDrawdown = dd
		}
	}

	// Handle unrecovered drawdown
	if current != nil {
		current.EndDate = curve[len(curve)-1].Date
		current.Duration = int(current.EndDate.Sub(current.StartDate).Hours() / 24)
		periods = append(periods, *current)
	}
	return periods
}
