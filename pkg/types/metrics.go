package types

import (
	"fmt"
	"time"
)

// MetricName identifies a summary metric for requirements and ranking
type MetricName string

const (
	MetricCAGR        MetricName = "cagr"
	MetricMaxDrawdown MetricName = "max_drawdown"
	MetricCalmar      MetricName = "calmar"
	MetricSharpe      MetricName = "sharpe"
	MetricSortino     MetricName = "sortino"
	MetricTreynor     MetricName = "treynor"
	MetricVolatility  MetricName = "volatility"
	MetricWinRate     MetricName = "win_rate"
	MetricAvgTurnover MetricName = "avg_turnover"
	MetricAvgHoldings MetricName = "avg_holdings"
	MetricTradingDays MetricName = "trading_days"
)

// MetricNames lists every rankable metric
var MetricNames = []MetricName{
	MetricCAGR, MetricMaxDrawdown, MetricCalmar, MetricSharpe, MetricSortino,
	MetricTreynor, MetricVolatility, MetricWinRate, MetricAvgTurnover,
	MetricAvgHoldings, MetricTradingDays,
}

// LowerIsBetter reports metrics ranked ascending
func (m MetricName) LowerIsBetter() bool {
	switch m {
	case MetricMaxDrawdown, MetricVolatility, MetricAvgTurnover:
		return true
	}
	return false
}

// Metrics summarizes one simulated window.
// Drawdown, volatility and rates are fractions (0.25 = 25%).
type Metrics struct {
	CAGR        Number    `json:"cagr"`
	MaxDrawdown Number    `json:"max_drawdown"`
	Calmar      Number    `json:"calmar"`
	Sharpe      Number    `json:"sharpe"`
	Sortino     Number    `json:"sortino"`
	Treynor     Number    `json:"treynor"`
	Volatility  Number    `json:"volatility"`
	WinRate     Number    `json:"win_rate"`
	AvgTurnover Number    `json:"avg_turnover"`
	AvgHoldings Number    `json:"avg_holdings"`
	TradingDays int       `json:"trading_days"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// EmptyMetrics returns metrics with every ratio undefined
func EmptyMetrics() Metrics {
	u := Undefined()
	return Metrics{
		CAGR: u, MaxDrawdown: u, Calmar: u, Sharpe: u, Sortino: u, Treynor: u,
		Volatility: u, WinRate: u, AvgTurnover: u, AvgHoldings: u,
	}
}

// Value looks up a metric by name
func (m Metrics) Value(name MetricName) (Number, error) {
	switch name {
	case MetricCAGR:
		return m.CAGR, nil
	case MetricMaxDrawdown:
		return m.MaxDrawdown, nil
	case MetricCalmar:
		return m.Calmar, nil
	case MetricSharpe:
		return m.Sharpe, nil
	case MetricSortino:
		return m.Sortino, nil
	case MetricTreynor:
		return m.Treynor, nil
	case MetricVolatility:
		return m.Volatility, nil
	case MetricWinRate:
		return m.WinRate, nil
	case MetricAvgTurnover:
		return m.AvgTurnover, nil
	case MetricAvgHoldings:
		return m.AvgHoldings, nil
	case MetricTradingDays:
		if m.TradingDays == 0 {
			return Undefined(), nil
		}
		return Number(m.TradingDays), nil
	}
	return Undefined(), fmt.Errorf("unknown metric %q", name)
}
