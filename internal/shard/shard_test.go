package shard_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/shard"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func holding(id, ticker string) strategy.Node {
	return &strategy.BasicNode{
		Header: strategy.Header{ID: id},
		Next:   []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: id + "-pos"}, Tickers: []string{ticker}}},
	}
}

func twoBranches() []shard.ShardBranch {
	return []shard.ShardBranch{
		{JobID: "job-a", BranchID: 0, Label: "w=10", Tree: holding("root", "SPY"), OOSStart: day(2018, 1, 1)},
		{JobID: "job-b", BranchID: 3, Label: "w=20", Tree: holding("root", "TLT"), OOSStart: day(2020, 1, 1)},
	}
}

func TestCombine_LatestOOSStartWins(t *testing.T) {
	root, oos, err := shard.Combine(twoBranches(), optimizer.SplitChronological)
	require.NoError(t, err)
	assert.Equal(t, day(2020, 1, 1), oos)

	numbered, ok := root.(*strategy.NumberedNode)
	require.True(t, ok)
	assert.Equal(t, shard.RootID, numbered.ID)
	assert.Equal(t, strategy.QuantifierAny, numbered.Quantifier)
	assert.Equal(t, 1, numbered.Count)
	require.Len(t, numbered.Items, 2)
	assert.Empty(t, numbered.Items[0].Conditions)
	assert.Equal(t, "w=20", numbered.Items[1].Name)
}

func TestCombine_ChronologicalKeepsTreesWithUniqueIDs(t *testing.T) {
	branches := twoBranches()
	root, _, err := shard.Combine(branches, optimizer.SplitChronological)
	require.NoError(t, err)
	require.NoError(t, strategy.Validate(root, nil))

	_, ok := strategy.Find(root, "b0/root")
	assert.True(t, ok)
	_, ok = strategy.Find(root, "b1/root-pos")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"SPY", "TLT"}, strategy.Tickers(root, nil))

	// inputs untouched
	assert.Equal(t, "root", branches[0].Tree.NodeID())
}

func TestCombine_RollingUsesPlaceholders(t *testing.T) {
	branches := twoBranches()
	for i := range branches {
		branches[i].Tree = nil
	}
	root, _, err := shard.Combine(branches, optimizer.SplitRolling)
	require.NoError(t, err)

	numbered := root.(*strategy.NumberedNode)
	for i, item := range numbered.Items {
		require.Len(t, item.Next, 1)
		pos, ok := item.Next[0].(*strategy.PositionNode)
		require.True(t, ok)
		assert.Equal(t, branches[i].Label, pos.Name)
		assert.Empty(t, pos.Tickers)
	}
}

func TestCombine_Errors(t *testing.T) {
	_, _, err := shard.Combine(nil, optimizer.SplitChronological)
	assert.ErrorIs(t, err, shard.ErrNoBranches)

	branches := twoBranches()
	branches[1].Tree = nil
	_, _, err = shard.Combine(branches, optimizer.SplitChronological)
	assert.Error(t, err)

	_, _, err = shard.Combine(twoBranches(), "weekly")
	assert.Error(t, err)
}

func TestCombine_EvaluatesAsOneOfTheBranches(t *testing.T) {
	table, err := marketdata.SyntheticTable(day(2020, 1, 1), 60, 4, "SPY", "TLT")
	require.NoError(t, err)
	root, _, err := shard.Combine(twoBranches(), optimizer.SplitChronological)
	require.NoError(t, err)

	result, err := backtest.Evaluate(root, table, types.FillCloseToClose, 0, backtest.Options{Seed: 9})
	require.NoError(t, err)
	require.NotEmpty(t, result.Allocations)
	for _, a := range result.Allocations {
		require.Len(t, a.Weights, 1)
		for ticker, w := range a.Weights {
			assert.Contains(t, []string{"SPY", "TLT"}, ticker)
			assert.InDelta(t, 1.0, w, 1e-12)
		}
	}
}

func TestNew_IsImmutableCopy(t *testing.T) {
	branches := twoBranches()
	branches = append(branches, shard.ShardBranch{JobID: "job-a", BranchID: 5, Label: "w=30", Tree: holding("root", "QQQ")})

	s, err := shard.New(branches, "oos sharpe > 1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "oos sharpe > 1", s.Filter())
	assert.Equal(t, []string{"job-a", "job-b"}, s.SourceJobIDs())

	branches[0].Label = "changed"
	branches[0].Tree.(*strategy.BasicNode).ID = "changed"
	got := s.Branches()
	assert.Equal(t, "w=10", got[0].Label)
	assert.Equal(t, "root", got[0].Tree.NodeID())

	got[1].Label = "changed"
	assert.Equal(t, "w=20", s.Branches()[1].Label)

	_, err = shard.New(nil, "")
	assert.ErrorIs(t, err, shard.ErrNoBranches)
}

func TestMergeLibraries(t *testing.T) {
	branches := twoBranches()
	branches[0].Library = strategy.Library{"core": holding("core", "SPY")}
	branches[1].Library = strategy.Library{"core": holding("core", "SPY"), "alt": holding("alt", "GLD")}

	lib, err := shard.MergeLibraries(branches)
	require.NoError(t, err)
	assert.Len(t, lib, 2)

	branches[1].Library["core"] = holding("core", "IEF")
	_, err = shard.MergeLibraries(branches)
	assert.Error(t, err)
}

func TestSelect_FromReport(t *testing.T) {
	report := &optimizer.Report{
		JobID: "job-x",
		Split: optimizer.SplitChronological,
		Results: []*optimizer.Result{
			{BranchID: 0, Label: "w=10", OOSStart: day(2019, 1, 2)},
			{BranchID: 1, Label: "w=20", OOSStart: day(2019, 1, 2), Error: "boom"},
		},
		Branches: []*branch.Branch{
			{ID: 0, Label: "w=10", Values: []branch.ParamValue{{Path: "root.weighting.window", Value: decimal.NewFromInt(10)}}, Tree: holding("root", "SPY")},
			{ID: 1, Label: "w=20", Tree: holding("root", "TLT")},
		},
	}

	picked, err := shard.Select(report, nil, []int{0})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "job-x", picked[0].JobID)
	assert.Equal(t, day(2019, 1, 2), picked[0].OOSStart)
	require.NotNil(t, picked[0].Tree)
	assert.NotSame(t, report.Branches[0].Tree, picked[0].Tree)

	_, err = shard.Select(report, nil, []int{1})
	assert.Error(t, err)
	_, err = shard.Select(report, nil, []int{7})
	assert.Error(t, err)

	report.Split = optimizer.SplitRolling
	picked, err = shard.Select(report, nil, []int{0})
	require.NoError(t, err)
	assert.Nil(t, picked[0].Tree)
}

func TestShardBranch_JSON(t *testing.T) {
	in := twoBranches()[0]
	in.Library = strategy.Library{"core": holding("core", "GLD")}
	in.InSample.Sharpe = types.Num(1.5)

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out shard.ShardBranch
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Label, out.Label)
	assert.Equal(t, in.OOSStart, out.OOSStart)
	assert.Equal(t, []string{"SPY"}, strategy.Tickers(out.Tree, nil))
	assert.Contains(t, out.Library, "core")
	assert.Equal(t, 1.5, out.InSample.Sharpe.Float())
}
