// Package robustness resamples a realized daily-return series to show how
// much a backtest's headline numbers depend on path order and on individual
// days, and scores it against a set of fragility heuristics.
package robustness

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mExOms/quantree/internal/backtest"
)

// ErrInsufficientHistory is returned for series with fewer than two returns
var ErrInsufficientHistory = errors.New("return series is too short to analyze")

// DrawdownThresholds are the loss levels of the drawdown probability table
var DrawdownThresholds = []float64{0.2, 0.3, 0.4, 0.5}

// ReturnSeries is one branch's realized daily record. Turnover and Holdings
// are optional; their fingerprints report LevelUnknown when absent.
type ReturnSeries struct {
	Dates    []time.Time `json:"dates,omitempty"`
	Returns  []float64   `json:"returns"`
	Turnover []float64   `json:"turnover,omitempty"`
	Holdings []int       `json:"holdings,omitempty"`
}

// FromResult extracts the realized series of a simulation
func FromResult(r *backtest.Result) ReturnSeries {
	s := ReturnSeries{
		Dates:    make([]time.Time, len(r.EquityCurve)),
		Returns:  make([]float64, len(r.EquityCurve)),
		Turnover: make([]float64, len(r.EquityCurve)),
		Holdings: make([]int, len(r.EquityCurve)),
	}
	for i, p := range r.EquityCurve {
		s.Dates[i] = p.Date
		s.Returns[i] = p.Return
		s.Turnover[i] = p.Turnover
		s.Holdings[i] = p.Holdings
	}
	return s
}

// Config controls the resampling
type Config struct {
	Paths        int     `json:"paths" mapstructure:"paths"`
	PathYears    int     `json:"path_years" mapstructure:"path_years"`
	BlockDays    int     `json:"block_days" mapstructure:"block_days"`
	Folds        int     `json:"folds" mapstructure:"folds"`
	DropFraction float64 `json:"drop_fraction" mapstructure:"drop_fraction"`
	Bins         int     `json:"bins" mapstructure:"bins"`
	Seed         int64   `json:"seed" mapstructure:"seed"`
}

// DefaultConfig returns 400 five-year paths built from five-year blocks and
// 200 folds that each drop 10% of days
func DefaultConfig() Config {
	return Config{
		Paths:        400,
		PathYears:    5,
		BlockDays:    1260,
		Folds:        200,
		DropFraction: 0.1,
		Bins:         20,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Paths <= 0 {
		c.Paths = d.Paths
	}
	if c.PathYears <= 0 {
		c.PathYears = d.PathYears
	}
	if c.BlockDays <= 0 {
		c.BlockDays = d.BlockDays
	}
	if c.Folds <= 0 {
		c.Folds = d.Folds
	}
	if c.DropFraction <= 0 {
		c.DropFraction = d.DropFraction
	}
	if c.Bins <= 0 {
		c.Bins = d.Bins
	}
	return c
}

// Distributions groups the per-sample metric distributions
type Distributions struct {
	CAGR        Distribution `json:"cagr"`
	MaxDrawdown Distribution `json:"max_drawdown"`
	Sharpe      Distribution `json:"sharpe"`
	Volatility  Distribution `json:"volatility"`
}

// DrawdownProbability is the share of Monte Carlo paths whose max drawdown
// exceeds Threshold
type DrawdownProbability struct {
	Threshold   float64 `json:"threshold"`
	Probability float64 `json:"probability"`
}

// Report is the outcome of Analyze
type Report struct {
	Config                Config                `json:"config"`
	Days                  int                   `json:"days"`
	Full                  Sample                `json:"full"`
	MonteCarlo            Distributions         `json:"monte_carlo"`
	KFold                 Distributions         `json:"k_fold"`
	DrawdownProbabilities []DrawdownProbability `json:"drawdown_probabilities"`
	Fingerprints          []Fingerprint         `json:"fingerprints"`
}

// Analyze runs the Monte Carlo and K-fold resampling and the fingerprint
// scorers. The same series and config always give the same report.
func Analyze(series ReturnSeries, cfg Config) (*Report, error) {
	if len(series.Returns) < 2 {
		return nil, ErrInsufficientHistory
	}
	for i, r := range series.Returns {
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= -1 {
			return nil, fmt.Errorf("return %d is not a valid daily return: %v", i, r)
		}
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	paths := monteCarlo(series.Returns, cfg, rng)
	folds := kFold(series.Returns, cfg, rng)
	full := measure(series.Returns)

	report := &Report{
		Config:     cfg,
		Days:       len(series.Returns),
		Full:       full,
		MonteCarlo: distributions(paths, cfg.Bins),
		KFold:      distributions(folds, cfg.Bins),
	}
	for _, threshold := range DrawdownThresholds {
		report.DrawdownProbabilities = append(report.DrawdownProbabilities, DrawdownProbability{
			Threshold:   threshold,
			Probability: exceedance(paths, threshold),
		})
	}
	report.Fingerprints = fingerprints(series, full, folds)
	return report, nil
}

func exceedance(paths []Sample, threshold float64) float64 {
	if len(paths) == 0 {
		return 0
	}
	n := 0
	for _, p := range paths {
		if p.MaxDrawdown.Float() > threshold {
			n++
		}
	}
	return float64(n) / float64(len(paths))
}
