package branch_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/strategy"
)

func baseTree() strategy.Node {
	threshold := 30.0
	return &strategy.IndicatorNode{
		Header: strategy.Header{ID: "gate"},
		Conditions: []strategy.ConditionLine{
			{Ticker: "SPY", Metric: "rsi", Window: 14, Comparator: strategy.LessThan, Threshold: &threshold},
		},
		Then: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "long"}, Tickers: []string{"SPY"}}},
		Else: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "bonds"}, Tickers: []string{"TLT"}}},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRange_ValuesUseExactSteps(t *testing.T) {
	r := branch.Range{Path: "x.cap", Min: dec("0.1"), Max: dec("0.3"), Step: dec("0.1")}
	values, err := r.Values()
	require.NoError(t, err)

	got := make([]string, len(values))
	for i, v := range values {
		got[i] = v.String()
	}
	assert.Equal(t, []string{"0.1", "0.2", "0.3"}, got)

	r = branch.Range{Path: "x.cap", Min: dec("0"), Max: dec("1"), Step: dec("0.3")}
	assert.Equal(t, 4, r.Len())
}

func TestCount(t *testing.T) {
	n, err := branch.Count([]branch.Range{
		{Path: "a.window", Min: dec("10"), Max: dec("14"), Step: dec("2")},
		{Path: "b.window", Min: dec("1"), Max: dec("5"), Step: dec("1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	n, err = branch.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = branch.Count([]branch.Range{{Path: "a.window", Min: dec("1"), Max: dec("5"), Step: dec("0")}})
	assert.Error(t, err)
}

func TestGenerate_CartesianProduct(t *testing.T) {
	base := baseTree()
	ranges := []branch.Range{
		{Path: "gate.conditions[0].window", Min: dec("10"), Max: dec("14"), Step: dec("2")},
		{Path: "gate.conditions[0].threshold", Min: dec("20"), Max: dec("30"), Step: dec("2.5")},
	}

	branches, err := branch.Generate(base, nil, ranges, branch.Options{})
	require.NoError(t, err)
	require.Len(t, branches, 15)

	assert.Equal(t, 0, branches[0].ID)
	assert.Equal(t, "gate.conditions[0].window=10,gate.conditions[0].threshold=20", branches[0].Label)
	assert.Equal(t, "gate.conditions[0].window=10,gate.conditions[0].threshold=22.5", branches[1].Label)
	assert.Equal(t, "gate.conditions[0].window=12,gate.conditions[0].threshold=20", branches[5].Label)
	assert.Equal(t, 14, branches[14].ID)

	window, err := strategy.GetParam(branches[7].Tree, "gate.conditions[0].window")
	require.NoError(t, err)
	assert.Equal(t, 12.0, window)
	threshold, err := strategy.GetParam(branches[7].Tree, "gate.conditions[0].threshold")
	require.NoError(t, err)
	assert.Equal(t, 25.0, threshold)

	// Base tree is untouched
	window, err = strategy.GetParam(base, "gate.conditions[0].window")
	require.NoError(t, err)
	assert.Equal(t, 14.0, window)
}

func TestGenerate_NoRangesYieldsBase(t *testing.T) {
	branches, err := branch.Generate(baseTree(), nil, nil, branch.Options{})
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "", branches[0].Label)
	assert.Equal(t, "gate", branches[0].Tree.NodeID())
}

func TestGenerate_TooManyBranches(t *testing.T) {
	ranges := []branch.Range{
		{Path: "gate.conditions[0].window", Min: dec("1"), Max: dec("100"), Step: dec("1")},
		{Path: "gate.conditions[0].threshold", Min: dec("1"), Max: dec("100"), Step: dec("1")},
	}

	_, err := branch.Generate(baseTree(), nil, ranges, branch.Options{MaxBranches: 500})
	var tooMany *branch.TooManyBranchesError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 10000, tooMany.Count)
	assert.Equal(t, 500, tooMany.Limit)

	branches, err := branch.Generate(baseTree(), nil, ranges, branch.Options{})
	require.NoError(t, err)
	assert.Len(t, branches, 10000)
}

func TestGenerate_RejectsInvalidRanges(t *testing.T) {
	tests := []struct {
		name string
		r    branch.Range
	}{
		{"zero step", branch.Range{Path: "gate.conditions[0].threshold", Min: dec("1"), Max: dec("2"), Step: dec("0")}},
		{"max below min", branch.Range{Path: "gate.conditions[0].threshold", Min: dec("3"), Max: dec("2"), Step: dec("1")}},
		{"unknown node", branch.Range{Path: "nope.window", Min: dec("1"), Max: dec("2"), Step: dec("1")}},
		{"unknown field", branch.Range{Path: "gate.speed", Min: dec("1"), Max: dec("2"), Step: dec("1")}},
		{"fractional window", branch.Range{Path: "gate.conditions[0].window", Min: dec("1"), Max: dec("2"), Step: dec("0.5")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := branch.Generate(baseTree(), nil, []branch.Range{tt.r}, branch.Options{})
			assert.Error(t, err)
		})
	}
}

func TestBranch_JSONRoundTrip(t *testing.T) {
	branches, err := branch.Generate(baseTree(), nil, []branch.Range{
		{Path: "gate.conditions[0].threshold", Min: dec("25"), Max: dec("25"), Step: dec("1")},
	}, branch.Options{})
	require.NoError(t, err)

	data, err := json.Marshal(branches[0])
	require.NoError(t, err)

	var decoded branch.Branch
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, branches[0].Label, decoded.Label)
	threshold, err := strategy.GetParam(decoded.Tree, "gate.conditions[0].threshold")
	require.NoError(t, err)
	assert.Equal(t, 25.0, threshold)
}
