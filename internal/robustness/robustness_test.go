package robustness

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/pkg/types"
)

func randomReturns(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.0004 + rng.NormFloat64()*0.01
	}
	return out
}

func constant(n int, r float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func smallConfig() Config {
	return Config{Paths: 120, PathYears: 2, BlockDays: 252, Folds: 60, Seed: 7}
}

func byName(fps []Fingerprint) map[string]Fingerprint {
	out := make(map[string]Fingerprint, len(fps))
	for _, fp := range fps {
		out[fp.Name] = fp
	}
	return out
}

func TestAnalyze_PercentilesAreOrdered(t *testing.T) {
	report, err := Analyze(ReturnSeries{Returns: randomReturns(1500, 3)}, smallConfig())
	require.NoError(t, err)

	for _, d := range []Distributions{report.MonteCarlo, report.KFold} {
		for _, dist := range []Distribution{d.CAGR, d.MaxDrawdown, d.Sharpe, d.Volatility} {
			p := dist.Percentiles
			require.True(t, p.P5.Defined())
			assert.LessOrEqual(t, p.P5, p.P25)
			assert.LessOrEqual(t, p.P25, p.P50)
			assert.LessOrEqual(t, p.P50, p.P75)
			assert.LessOrEqual(t, p.P75, p.P95)

			for _, b := range dist.Histogram {
				assert.LessOrEqual(t, b.Lower, b.Upper)
			}
			assert.Len(t, dist.Histogram, 20)
		}
	}
	assert.Equal(t, 120, histogramTotal(report.MonteCarlo.CAGR))
	assert.Equal(t, 60, histogramTotal(report.KFold.Sharpe))
}

func TestAnalyze_ShortHistoryStillResamples(t *testing.T) {
	// three years is shorter than the default five-year block
	cfg := DefaultConfig()
	cfg.Seed = 1
	report, err := Analyze(ReturnSeries{Returns: randomReturns(756, 3)}, cfg)
	require.NoError(t, err)

	for _, dist := range []Distribution{report.MonteCarlo.CAGR, report.MonteCarlo.MaxDrawdown} {
		require.True(t, dist.P5.Defined())
		assert.Less(t, dist.P5.Float(), dist.P95.Float())
	}
}

func TestBlockLen(t *testing.T) {
	assert.Equal(t, 1260, blockLen(1260, 5040))
	assert.Equal(t, 189, blockLen(1260, 756))
	assert.Equal(t, 1, blockLen(1260, 3))
	assert.Equal(t, 20, blockLen(20, 756))
}

func histogramTotal(d Distribution) int {
	n := d.Undefined
	for _, b := range d.Histogram {
		n += b.Count
	}
	return n
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	series := ReturnSeries{Returns: randomReturns(800, 5)}

	run := func() []byte {
		report, err := Analyze(series, smallConfig())
		require.NoError(t, err)
		data, err := json.Marshal(report)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, run(), run())

	other := smallConfig()
	other.Seed = 8
	report, err := Analyze(series, other)
	require.NoError(t, err)
	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.NotEqual(t, run(), data)
}

func TestAnalyze_DrawdownProbabilities(t *testing.T) {
	losing, err := Analyze(ReturnSeries{Returns: constant(600, -0.001)}, smallConfig())
	require.NoError(t, err)
	require.Len(t, losing.DrawdownProbabilities, 4)
	// two years of -0.1% a day lose about 40%
	assert.Equal(t, 1.0, losing.DrawdownProbabilities[0].Probability)
	assert.Equal(t, 1.0, losing.DrawdownProbabilities[1].Probability)
	assert.Equal(t, 0.0, losing.DrawdownProbabilities[3].Probability)

	winning, err := Analyze(ReturnSeries{Returns: constant(600, 0.001)}, smallConfig())
	require.NoError(t, err)
	for _, p := range winning.DrawdownProbabilities {
		assert.Equal(t, 0.0, p.Probability)
	}
}

func TestAnalyze_Fingerprints(t *testing.T) {
	series := ReturnSeries{
		Returns:  constant(300, 0.001),
		Turnover: constant(300, 0.5),
		Holdings: make([]int, 300),
	}
	for i := range series.Holdings {
		series.Holdings[i] = 1
	}

	report, err := Analyze(series, smallConfig())
	require.NoError(t, err)
	require.Len(t, report.Fingerprints, 8)

	fps := byName(report.Fingerprints)
	assert.Equal(t, LevelHigh, fps[FingerprintHistoryLength].Level)
	assert.Equal(t, LevelHigh, fps[FingerprintTurnover].Level)
	assert.Equal(t, LevelHigh, fps[FingerprintConcentration].Level)
	assert.Equal(t, LevelLow, fps[FingerprintDrawdownRecovery].Level)
	assert.Equal(t, LevelLow, fps[FingerprintSubPeriodStability].Level)
	assert.Equal(t, LevelLow, fps[FingerprintProfitConcentration].Level)
	assert.Equal(t, LevelLow, fps[FingerprintSmoothness].Level)
	assert.Equal(t, LevelLow, fps[FingerprintTradeRemoval].Level)
	assert.InDelta(t, 10.0/300, fps[FingerprintProfitConcentration].Value.Float(), 1e-9)
}

func TestFingerprintThresholds(t *testing.T) {
	assert.Equal(t, LevelMedium, historyLength(constant(5*252, 0)).Level)
	assert.Equal(t, LevelLow, historyLength(constant(8*252, 0)).Level)
	assert.Equal(t, LevelMedium, turnover([]float64{0.1}).Level)
	assert.Equal(t, LevelLow, turnover([]float64{0.01}).Level)
	assert.Equal(t, LevelMedium, concentration([]int{3, 3}).Level)
	assert.Equal(t, LevelLow, concentration([]int{5}).Level)
	assert.Equal(t, LevelUnknown, concentration(nil).Level)

	// one losing quarter out of four
	returns := append(constant(30, 0.01), constant(30, -0.01)...)
	returns = append(returns, constant(60, 0.01)...)
	assert.Equal(t, LevelMedium, subPeriodStability(returns).Level)

	assert.Equal(t, LevelHigh, profitConcentration(constant(20, -0.01)).Level)

	underwater := append([]float64{0.1, -0.5}, constant(300, 0.0001)...)
	fp := drawdownRecovery(underwater)
	assert.Equal(t, LevelMedium, fp.Level)
	assert.Equal(t, 301.0, fp.Value.Float())
}

func TestAnalyze_RejectsShortOrInvalidSeries(t *testing.T) {
	_, err := Analyze(ReturnSeries{Returns: []float64{0.01}}, Config{})
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = Analyze(ReturnSeries{Returns: []float64{0.01, -1.5}}, Config{})
	assert.Error(t, err)
}

func TestFromResult(t *testing.T) {
	table := marketdata.TableFromCloses(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		map[string][]float64{"SPY": {100, 110, 99}})
	allocations := []types.AllocationDay{
		{Date: table.Dates[0], Weights: map[string]float64{"SPY": 1}},
		{Date: table.Dates[1], Weights: map[string]float64{"SPY": 1}},
	}
	result, err := backtest.Simulate(table, allocations, backtest.Config{})
	require.NoError(t, err)

	series := FromResult(result)
	require.Len(t, series.Returns, 2)
	assert.InDelta(t, 0.1, series.Returns[0], 1e-12)
	assert.InDelta(t, -0.1, series.Returns[1], 1e-12)
	assert.Equal(t, []float64{1, 0}, series.Turnover)
	assert.Equal(t, []int{1, 1}, series.Holdings)
	assert.Equal(t, table.Dates[1], series.Dates[0])
}
