package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mExOms/quantree/pkg/types"
)

// TradingDaysPerYear annualizes daily statistics
const TradingDaysPerYear = 252

// Config contains simulation settings
type Config struct {
	Mode types.FillMode `json:"mode"`
	// CostBps is charged on every unit of turnover, in basis points
	CostBps float64 `json:"cost_bps"`
	// Benchmark ticker for beta and Treynor; optional
	Benchmark string `json:"benchmark,omitempty"`
}

// EquityPoint is the portfolio state after one realized holding period.
// Date is the day the period's return is realized.
type EquityPoint struct {
	Date     time.Time `json:"date"`
	Decision time.Time `json:"decision"`
	Return   float64   `json:"return"`
	Equity   float64   `json:"equity"`
	Drawdown float64   `json:"drawdown"`
	Turnover float64   `json:"turnover"`
	Holdings int       `json:"holdings"`
	// Benchmark return over the same period; NaN when unavailable
	Benchmark float64 `json:"-"`
}

// Result contains the output of a simulation
type Result struct {
	Config      Config                `json:"config"`
	Allocations []types.AllocationDay `json:"allocations"`
	EquityCurve []EquityPoint         `json:"equity_curve"`
	Metrics     types.Metrics         `json:"metrics"`

	table *types.PriceTable
}

// Returns gives the realized daily returns in order
func (r *Result) Returns() []float64 {
	out := make([]float64, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out[i] = p.Return
	}
	return out
}

// Dates gives the realization dates in order
func (r *Result) Dates() []time.Time {
	out := make([]time.Time, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out[i] = p.Date
	}
	return out
}

// MonthlyReturn is the compounded return of one calendar month
type MonthlyReturn struct {
	Month  string          `json:"month"`
	Return decimal.Decimal `json:"return"`
}

// DrawdownPeriod is one stretch below a previous equity peak
type DrawdownPeriod struct {
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Duration    int             `json:"duration_days"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	Recovery    bool            `json:"recovery"`
}
