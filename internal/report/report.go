// Package report writes evaluation and optimization outcomes to disk as
// JSON, CSV and plain-text summaries.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/pkg/types"
)

// File names written by WriteEvaluation and WriteOptimization
const (
	ResultFile       = "result.json"
	AllocationsFile  = "allocations.csv"
	EquityCurveFile  = "equity_curve.csv"
	SummaryFile      = "summary.txt"
	OptimizationFile = "optimization.json"
	BranchesFile     = "branches.csv"
)

// Evaluation is the JSON document of one evaluated tree
type Evaluation struct {
	Metrics  types.Metrics    `json:"metrics"`
	Analysis *backtest.Report `json:"analysis"`
	Result   *backtest.Result `json:"result"`
}

// WriteEvaluation writes the result, allocation and equity files plus a
// text summary into dir
func WriteEvaluation(result *backtest.Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	analysis := backtest.NewResultAnalyzer(result).GenerateReport()

	if err := writeJSON(filepath.Join(dir, ResultFile), Evaluation{
		Metrics:  result.Metrics,
		Analysis: analysis,
		Result:   result,
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, AllocationsFile), func(w io.Writer) error {
		return WriteAllocationsCSV(w, result.Allocations)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, EquityCurveFile), func(w io.Writer) error {
		return WriteEquityCSV(w, result.EquityCurve)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
		return WriteSummary(w, result.Metrics, analysis)
	}); err != nil {
		return err
	}

	logrus.WithField("component", "report").Infof("Wrote evaluation report to %s", dir)
	return nil
}

// WriteOptimization writes the full report as JSON and one CSV row per
// branch into dir
func WriteOptimization(report *optimizer.Report, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, OptimizationFile), report); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, BranchesFile), func(w io.Writer) error {
		return WriteBranchesCSV(w, report.Results)
	})
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := fill(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatNumber(n types.Number) string {
	if !n.Defined() {
		return ""
	}
	return formatFloat(n.Float(), 6)
}

// WriteAllocationsCSV writes one row per day and one column per ticker
// ever held, plus the implicit cash share
func WriteAllocationsCSV(w io.Writer, allocations []types.AllocationDay) error {
	tickers := lo.Uniq(lo.FlatMap(allocations, func(a types.AllocationDay, _ int) []string {
		return lo.Keys(a.Weights)
	}))
	sort.Strings(tickers)

	writer := csv.NewWriter(w)
	header := append([]string{"Date"}, tickers...)
	header = append(header, "Cash")
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, a := range allocations {
		record := make([]string, 0, len(header))
		record = append(record, a.Date.Format(types.DateLayout))
		invested := 0.0
		for _, t := range tickers {
			weight := a.Weights[t]
			invested += weight
			record = append(record, formatFloat(weight, 6))
		}
		record = append(record, formatFloat(max(0, 1-invested), 6))
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteEquityCSV writes the equity curve
func WriteEquityCSV(w io.Writer, curve []backtest.EquityPoint) error {
	writer := csv.NewWriter(w)
	header := []string{"Date", "Decision", "Equity", "Return", "Drawdown", "Turnover", "Holdings"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range curve {
		record := []string{
			point.Date.Format(types.DateLayout),
			point.Decision.Format(types.DateLayout),
			formatFloat(point.Equity, 6),
			formatFloat(point.Return, 6),
			formatFloat(point.Drawdown, 6),
			formatFloat(point.Turnover, 6),
			strconv.Itoa(point.Holdings),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteBranchesCSV writes one row per branch with its headline metrics
func WriteBranchesCSV(w io.Writer, results []*optimizer.Result) error {
	writer := csv.NewWriter(w)
	header := []string{
		"BranchID", "Label", "Pass",
		"IS_CAGR", "IS_MaxDrawdown", "IS_Sharpe",
		"OOS_CAGR", "OOS_MaxDrawdown", "OOS_Sharpe",
		"Error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			strconv.Itoa(r.BranchID),
			r.Label,
			strconv.FormatBool(r.Pass),
			formatNumber(r.InSample.CAGR),
			formatNumber(r.InSample.MaxDrawdown),
			formatNumber(r.InSample.Sharpe),
			formatNumber(r.OutOfSample.CAGR),
			formatNumber(r.OutOfSample.MaxDrawdown),
			formatNumber(r.OutOfSample.Sharpe),
			r.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ratio(n types.Number) string {
	if !n.Defined() {
		return "n/a"
	}
	return formatFloat(n.Float(), 2)
}

func percent(n types.Number) string {
	if !n.Defined() {
		return "n/a"
	}
	return formatFloat(n.Float()*100, 2) + "%"
}

// WriteSummary writes a human-readable summary
func WriteSummary(w io.Writer, m types.Metrics, analysis *backtest.Report) error {
	s := analysis.Summary
	lines := []string{
		"BACKTEST SUMMARY REPORT",
		"=======================",
		"",
		"Period:",
		fmt.Sprintf("  Start: %s", m.Start.Format(types.DateLayout)),
		fmt.Sprintf("  End: %s", m.End.Format(types.DateLayout)),
		fmt.Sprintf("  Duration: %s", s.Duration),
		fmt.Sprintf("  Trading Days: %d", m.TradingDays),
		"",
		"Performance Summary:",
		fmt.Sprintf("  Final Equity: %s", s.FinalEquity.String()),
		fmt.Sprintf("  Total Return: %s", s.TotalReturnPct),
		fmt.Sprintf("  CAGR: %s", s.CAGR),
		fmt.Sprintf("  Max Drawdown: %s (%d days under water)", s.MaxDrawdown, s.MaxDrawdownDays),
		fmt.Sprintf("  Sharpe Ratio: %s", ratio(m.Sharpe)),
		fmt.Sprintf("  Sortino Ratio: %s", ratio(m.Sortino)),
		fmt.Sprintf("  Calmar Ratio: %s", ratio(m.Calmar)),
		fmt.Sprintf("  Treynor Ratio: %s", ratio(m.Treynor)),
		"",
		"Trading Statistics:",
		fmt.Sprintf("  Win Rate: %s", percent(m.WinRate)),
		fmt.Sprintf("  Average Turnover: %s", ratio(m.AvgTurnover)),
		fmt.Sprintf("  Average Holdings: %s", ratio(m.AvgHoldings)),
	}
	if analysis.Risk != nil {
		lines = append(lines,
			"",
			"Risk:",
			fmt.Sprintf("  Volatility: %s", analysis.Risk.Volatility.StringFixed(4)),
			fmt.Sprintf("  VaR 95%%: %s", analysis.Risk.ValueAtRisk95.StringFixed(4)),
			fmt.Sprintf("  Ulcer Index: %s", analysis.Risk.UlcerIndex.StringFixed(4)),
			fmt.Sprintf("  Drawdown Periods: %d", len(analysis.Risk.DrawdownPeriods)),
		)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
