package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/indicator"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/strategy"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func pos(id string, tickers ...string) *strategy.PositionNode {
	return &strategy.PositionNode{Header: strategy.Header{ID: id}, Tickers: tickers}
}

func basic(id string, w strategy.Weighting, next ...strategy.Node) *strategy.BasicNode {
	return &strategy.BasicNode{Header: strategy.Header{ID: id}, Weighting: w, Next: next}
}

func threshold(v float64) *float64 { return &v }

// alternating builds closes whose daily returns alternate +step, -step
func alternating(n int, step float64) []float64 {
	out := make([]float64, n)
	out[0] = 100
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			out[i] = out[i-1] * (1 + step)
		} else {
			out[i] = out[i-1] * (1 - step)
		}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestBuyAndHold(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": {100, 101, 102, 103}})

	days, err := New(table, Options{}).Run(pos("spy", "SPY"))
	require.NoError(t, err)
	require.Len(t, days, 4)
	assert.Equal(t, table.Dates[0], days[0].Date)
	for _, d := range days {
		assert.Equal(t, map[string]float64{"SPY": 1}, d.Weights)
	}
}

func TestEqualWeightCountsCashChildren(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(3, 10), "TLT": flat(3, 20)})
	root := basic("root", strategy.Weighting{},
		pos("a", "SPY"), pos("b", "TLT"), pos("c", strategy.CashTicker))

	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, days[0].Weights["SPY"], 1e-12)
	assert.InDelta(t, 1.0/3, days[0].Weights["TLT"], 1e-12)
	assert.InDelta(t, 2.0/3, days[0].Total(), 1e-12)
}

func TestDefinedShortfallIsCash(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(2, 10), "TLT": flat(2, 20)})
	root := basic("root", strategy.Weighting{Mode: strategy.WeightDefined, Weights: []float64{60, 30}},
		pos("a", "SPY"), pos("b", "TLT"))

	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, days[0].Weights["SPY"], 1e-12)
	assert.InDelta(t, 0.3, days[0].Weights["TLT"], 1e-12)
	assert.InDelta(t, 0.9, days[0].Total(), 1e-12)
}

func TestCappedRedistributes(t *testing.T) {
	closes := map[string][]float64{}
	for _, tk := range []string{"SPY", "TLT", "GLD", "IEF", "BIL"} {
		closes[tk] = flat(2, 50)
	}
	table := marketdata.TableFromCloses(epoch, closes)

	root := basic("root", strategy.Weighting{Mode: strategy.WeightCapped, Cap: 0.25},
		pos("a", "SPY"), pos("b", "TLT"), pos("c", "GLD", "IEF"))
	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	for _, tk := range []string{"SPY", "TLT", "GLD", "IEF"} {
		assert.InDelta(t, 0.25, days[0].Weights[tk], 1e-12, tk)
	}

	root = basic("root", strategy.Weighting{Mode: strategy.WeightCapped, Cap: 0.4, Fallback: "BIL"},
		pos("a", "SPY"), pos("b", "TLT"))
	days, err = New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, days[0].Weights["SPY"], 1e-12)
	assert.InDelta(t, 0.4, days[0].Weights["TLT"], 1e-12)
	assert.InDelta(t, 0.2, days[0].Weights["BIL"], 1e-12)
}

func TestCrossingsNeedThePriorDay(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": {69, 71, 71, 69, 71}})
	cache := indicator.NewCache(table)

	above := strategy.ConditionLine{Ticker: "SPY", Metric: indicator.CurrentPrice,
		Comparator: strategy.CrossesAbove, Threshold: threshold(70)}
	got, err := ConditionSeries(cache, above)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, false, true}, got)

	below := above
	below.Comparator = strategy.CrossesBelow
	got, err = ConditionSeries(cache, below)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true, false}, got)

	held := above
	held.ForDays = 2
	got, err = ConditionSeries(cache, held)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true, false, false}, got)
}

func TestConditionJoinsFoldLeftToRight(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(3, 10), "TLT": flat(3, 20)})
	e := New(table, Options{})

	lines := []strategy.ConditionLine{
		{Ticker: "SPY", Metric: indicator.CurrentPrice, Comparator: strategy.GreaterThan, Threshold: threshold(50)},
		{Ticker: "TLT", Metric: indicator.CurrentPrice, Comparator: strategy.LessThan, Threshold: threshold(50), Join: strategy.JoinOr},
		{Ticker: "SPY", Metric: indicator.CurrentPrice, Comparator: strategy.LessThan,
			RightTicker: "TLT", RightMetric: indicator.CurrentPrice},
	}
	ok, err := e.conditionsHold(lines, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	lines[2].Comparator = strategy.GreaterThan
	ok, err = e.conditionsHold(lines, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndefinedConditionIsFalse(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": {1, 2, 3, math.NaN(), 5}})
	c := strategy.ConditionLine{Ticker: "SPY", Metric: indicator.CurrentPrice,
		Comparator: strategy.LessThan, Threshold: threshold(100)}

	got, err := ConditionSeries(indicator.NewCache(table), c)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, false, true}, got)
}

func TestFunctionNodeRanksChildren(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{
		"SPY": {100, 101, 102, 103},
		"TLT": {100, 99, 98, 97},
	})
	fn := &strategy.FunctionNode{Header: strategy.Header{ID: "pick"}, Metric: indicator.CumulativeReturn,
		Window: 1, Select: strategy.SelectTop, Count: 1,
		Next: []strategy.Node{pos("cash", strategy.CashTicker), pos("a", "SPY"), pos("b", "TLT")}}

	days, err := New(table, Options{}).Run(fn)
	require.NoError(t, err)
	require.Len(t, days, 3)
	for _, d := range days {
		assert.Equal(t, map[string]float64{"SPY": 1}, d.Weights)
	}

	fn.Select = strategy.SelectBottom
	days, err = New(table, Options{}).Run(fn)
	require.NoError(t, err)
	for _, d := range days {
		assert.Equal(t, map[string]float64{"TLT": 1}, d.Weights)
	}
}

func TestScalingNodeInterpolates(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{
		"SPY": {100, 150, 200, 250},
		"TLT": flat(4, 90),
	})
	root := &strategy.ScalingNode{Header: strategy.Header{ID: "scale"}, Ticker: "SPY",
		Metric: indicator.CurrentPrice, From: 100, To: 200,
		Then: []strategy.Node{pos("a", "SPY")}, Else: []strategy.Node{pos("b", "TLT")}}

	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	expected := []float64{0, 0.5, 1, 1}
	for i, d := range days {
		assert.InDelta(t, expected[i], d.Weights["SPY"], 1e-12)
		assert.InDelta(t, 1-expected[i], d.Weights["TLT"], 1e-12)
	}

	assert.Equal(t, 0.0, scaleFraction(math.NaN(), 0, 1))
	assert.Equal(t, 1.0, scaleFraction(5, 5, 5))
	assert.Equal(t, 1.0, scaleFraction(30, 70, 30))
}

func TestInverseVolatility(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{
		"SPY": alternating(10, 0.02),
		"TLT": alternating(10, 0.01),
		"BIL": flat(10, 100),
	})
	root := basic("root", strategy.Weighting{Mode: strategy.WeightInverseVol, Window: 4},
		pos("a", "SPY"), pos("b", "TLT"))

	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.Equal(t, table.Dates[4], days[0].Date)
	for _, d := range days {
		assert.InDelta(t, 1.0/3, d.Weights["SPY"], 1e-6)
		assert.InDelta(t, 2.0/3, d.Weights["TLT"], 1e-6)
	}

	root.Weighting.Mode = strategy.WeightProVol
	days, err = New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, days[0].Weights["SPY"], 1e-6)

	// flat prices have zero volatility and fall back
	root = basic("root", strategy.Weighting{Mode: strategy.WeightInverseVol, Window: 4, Fallback: "TLT"},
		pos("a", "BIL"))
	days, err = New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"TLT": 1}, days[0].Weights)
}

func TestNumberedAnyIsSeeded(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{
		"SPY": flat(50, 1), "TLT": flat(50, 2), "GLD": flat(50, 3),
	})
	root := &strategy.NumberedNode{Header: strategy.Header{ID: "menu"}, Quantifier: strategy.QuantifierAny, Count: 1,
		Items: []strategy.NumberedItem{
			{Next: []strategy.Node{pos("a", "SPY")}},
			{Next: []strategy.Node{pos("b", "TLT")}},
			{Next: []strategy.Node{pos("c", "GLD")}},
		}}

	first, err := New(table, Options{Seed: 7}).Run(root)
	require.NoError(t, err)
	second, err := New(table, Options{Seed: 7}).Run(root)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	seen := map[string]bool{}
	for _, d := range first {
		require.Len(t, d.Weights, 1)
		for tk, w := range d.Weights {
			assert.Equal(t, 1.0, w)
			seen[tk] = true
		}
	}
	assert.Len(t, seen, 3)

	root.Quantifier = strategy.QuantifierTopN
	root.Count = 2
	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"SPY": 0.5, "TLT": 0.5}, days[0].Weights)
}

func TestNumberedFallsBackToElse(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(3, 10), "BIL": flat(3, 1)})
	root := &strategy.NumberedNode{Header: strategy.Header{ID: "menu"},
		Items: []strategy.NumberedItem{{
			Conditions: []strategy.ConditionLine{{Ticker: "SPY", Metric: indicator.CurrentPrice,
				Comparator: strategy.GreaterThan, Threshold: threshold(100)}},
			Next: []strategy.Node{pos("a", "SPY")},
		}},
		Else: []strategy.Node{pos("b", "BIL")}}

	days, err := New(table, Options{}).Run(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BIL": 1}, days[0].Weights)
}

func TestWeightsNeverExceedOne(t *testing.T) {
	table, err := marketdata.SyntheticTable(epoch, 300, 42, "SPY", "TLT", "GLD", "QQQ")
	require.NoError(t, err)

	root := &strategy.IndicatorNode{Header: strategy.Header{ID: "gate"},
		Conditions: []strategy.ConditionLine{{Ticker: "SPY", Metric: indicator.RSI, Window: 10,
			Comparator: strategy.GreaterThan, Threshold: threshold(50)}},
		Then: []strategy.Node{
			&strategy.FunctionNode{Header: strategy.Header{ID: "pick"}, Metric: indicator.StdevReturn, Window: 20,
				Select: strategy.SelectBottom, Count: 2,
				Weighting: strategy.Weighting{Mode: strategy.WeightInverseVol},
				Next:      []strategy.Node{pos("a", "SPY"), pos("b", "QQQ"), pos("c", "GLD")}},
			basic("capped", strategy.Weighting{Mode: strategy.WeightCapped, Cap: 0.3},
				pos("d", "TLT", "GLD"), pos("e", "SPY")),
		},
		Else: []strategy.Node{
			&strategy.NumberedNode{Header: strategy.Header{ID: "menu"}, Count: 2,
				Weighting: strategy.Weighting{Mode: strategy.WeightDefined, Weights: []float64{70, 50}},
				Items: []strategy.NumberedItem{
					{Next: []strategy.Node{pos("f", "TLT")}},
					{Next: []strategy.Node{pos("g", "GLD", strategy.CashTicker)}},
					{Next: []strategy.Node{pos("h", "QQQ")}},
				}},
		},
	}

	days, err := New(table, Options{Seed: 3}).Run(root)
	require.NoError(t, err)
	require.NotEmpty(t, days)
	for _, d := range days {
		assert.LessOrEqual(t, d.Total(), 1+1e-9, d.Date.String())
		for tk, w := range d.Weights {
			assert.Greater(t, w, 0.0, tk)
		}
	}
}

func TestCallNodes(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"GLD": flat(2, 10)})
	lib := strategy.Library{"hedge": pos("gold", "GLD")}

	days, err := New(table, Options{Library: lib}).Run(&strategy.CallNode{Header: strategy.Header{ID: "c"}, CallID: "hedge"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"GLD": 1}, days[0].Weights)

	lib = strategy.Library{
		"a": basic("a-root", strategy.Weighting{}, &strategy.CallNode{Header: strategy.Header{ID: "to-a"}, CallID: "a"}),
	}
	_, err = New(table, Options{Library: lib}).Run(&strategy.CallNode{Header: strategy.Header{ID: "c"}, CallID: "a"})
	var cycle *strategy.CycleError
	assert.True(t, errors.As(err, &cycle), "got %v", err)
}

func TestInsufficientHistory(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(10, 10)})
	root := &strategy.FunctionNode{Header: strategy.Header{ID: "f"}, Metric: indicator.SMA, Window: 50,
		Next: []strategy.Node{pos("a", "SPY")}}

	_, err := New(table, Options{}).Run(root)
	var short *InsufficientHistoryError
	require.True(t, errors.As(err, &short), "got %v", err)
	assert.Equal(t, 50, short.Required)
	assert.Equal(t, 10, short.Available)
}

func TestMissingTickerFails(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(10, 10)})
	_, err := New(table, Options{}).Run(pos("a", "QQQ"))
	assert.Error(t, err)
}

func TestLookbackBoundsStart(t *testing.T) {
	root := &strategy.IndicatorNode{Header: strategy.Header{ID: "gate"},
		Conditions: []strategy.ConditionLine{{Ticker: "SPY", Metric: indicator.RSI, Window: 14,
			Comparator: strategy.CrossesAbove, Threshold: threshold(30), ForDays: 3}},
		Then: []strategy.Node{pos("a", "SPY")}}

	start, err := strategy.Lookback(root, nil)
	require.NoError(t, err)
	assert.Equal(t, 17, start)

	lib := strategy.Library{"vol": basic("v", strategy.Weighting{Mode: strategy.WeightInverseVol, Window: 30}, pos("b", "SPY"))}
	start, err = strategy.Lookback(basic("root", strategy.Weighting{}, root, &strategy.CallNode{Header: strategy.Header{ID: "c"}, CallID: "vol"}), lib)
	require.NoError(t, err)
	assert.Equal(t, 30, start)
}

func TestAllocateSingleDay(t *testing.T) {
	table := marketdata.TableFromCloses(epoch, map[string][]float64{"SPY": flat(3, 10)})
	weights, err := New(table, Options{}).Allocate(pos("a", "SPY"), 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"SPY": 1}, weights)

	_, err = New(table, Options{}).Allocate(pos("a", "SPY"), 3)
	assert.Error(t, err)
}
