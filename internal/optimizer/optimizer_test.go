package optimizer_test

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

var start = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

func gateTree() strategy.Node {
	threshold := 50.0
	return &strategy.IndicatorNode{
		Header: strategy.Header{ID: "gate"},
		Conditions: []strategy.ConditionLine{
			{Ticker: "SPY", Metric: "rsi", Window: 14, Comparator: strategy.LessThan, Threshold: &threshold},
		},
		Then: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "long"}, Tickers: []string{"SPY"}}},
		Else: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "bonds"}, Tickers: []string{"TLT"}}},
	}
}

func thresholdRange(lo, hi, step string) []branch.Range {
	return []branch.Range{{
		Path: "gate.conditions[0].threshold",
		Min:  decimal.RequireFromString(lo),
		Max:  decimal.RequireFromString(hi),
		Step: decimal.RequireFromString(step),
	}}
}

func newJob(t *testing.T, days int) optimizer.Job {
	t.Helper()
	table, err := marketdata.SyntheticTable(start, days, 21, "SPY", "TLT")
	require.NoError(t, err)
	return optimizer.Job{
		ID:      "job-1",
		Tree:    gateTree(),
		Table:   table,
		Ranges:  thresholdRange("40", "60", "10"),
		Split:   optimizer.Split{Kind: optimizer.SplitChronological, Cut: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
		Mode:    types.FillCloseToClose,
		CostBps: 5,
		Workers: 2,
		Seed:    1,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []optimizer.Progress
}

func (r *recorder) record(p optimizer.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) last() optimizer.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestRun_Chronological(t *testing.T) {
	job := newJob(t, 500)
	rec := &recorder{}

	report, err := optimizer.Run(context.Background(), job, optimizer.Options{OnProgress: rec.record})
	require.NoError(t, err)

	assert.Equal(t, optimizer.StatusCompleted, report.Status)
	assert.Equal(t, 3, report.TotalBranches)
	assert.Equal(t, 3, report.CompletedBranches)
	require.Len(t, report.Results, 3)

	cut := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, res := range report.Results {
		assert.Equal(t, i, res.BranchID)
		assert.Empty(t, res.Error)
		assert.True(t, res.Pass)
		assert.Equal(t, cut, res.OOSStart)
		assert.Equal(t, cut, res.OutOfSample.Start)
		assert.True(t, res.InSample.Start.Before(cut))
		// 2018-12-31 is the last trading day before the cut
		assert.Equal(t, time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC), res.InSample.End)
		assert.True(t, res.InSample.End.Before(res.OutOfSample.Start))
	}
	assert.Equal(t, "gate.conditions[0].threshold=50", report.Results[1].Label)

	// Counters only move forward and end on the final status
	prev := 0
	for _, e := range rec.events {
		assert.GreaterOrEqual(t, e.CompletedBranches, prev)
		prev = e.CompletedBranches
	}
	final := rec.last()
	assert.Equal(t, optimizer.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.CompletedBranches)
	assert.Equal(t, 3, final.TotalBranches)

	require.Len(t, report.Rankings, 1)
	assert.Equal(t, types.MetricSharpe, report.Rankings[0].Metric)
	assert.Len(t, report.Rankings[0].BranchIDs, 3)
}

func TestRun_CutSnapsToNextTradingDay(t *testing.T) {
	job := newJob(t, 500)
	// 2018-12-29 is a Saturday
	job.Split.Cut = time.Date(2018, 12, 29, 0, 0, 0, 0, time.UTC)

	report, err := optimizer.Run(context.Background(), job, optimizer.Options{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC), report.Cut)
}

func TestRun_IsDeterministicAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) []byte {
		job := newJob(t, 400)
		job.Ranges = thresholdRange("30", "70", "5")
		job.Workers = workers
		report, err := optimizer.Run(context.Background(), job, optimizer.Options{})
		require.NoError(t, err)
		data, err := json.Marshal(report)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, run(1), run(4))
}

func TestRun_RequirementsFilterRankings(t *testing.T) {
	job := newJob(t, 500)
	job.Requirements = []optimizer.Requirement{
		{Metric: types.MetricTradingDays, Op: optimizer.OpGreaterEqual, Value: 1},
		{Metric: types.MetricSharpe, Op: optimizer.OpGreater, Value: 1e9, Window: optimizer.WindowOutOfSample},
	}

	report, err := optimizer.Run(context.Background(), job, optimizer.Options{})
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.False(t, res.Pass)
		assert.Equal(t, []string{"oos sharpe > 1e+09"}, res.Failures)
	}
	assert.Empty(t, report.Rankings[0].BranchIDs)
}

func TestRun_BranchFailureDoesNotAbortJob(t *testing.T) {
	job := newJob(t, 500)
	job.Ranges = []branch.Range{{
		Path: "gate.conditions[0].window",
		Min:  decimal.NewFromInt(10),
		Max:  decimal.NewFromInt(1000),
		Step: decimal.NewFromInt(990),
	}}

	report, err := optimizer.Run(context.Background(), job, optimizer.Options{})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Results[0].Error)
	assert.NotEmpty(t, report.Results[1].Error)
	assert.False(t, report.Results[1].Pass)
	assert.Equal(t, []int{0}, report.Rankings[0].BranchIDs)
}

func TestRun_JobLevelErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*optimizer.Job)
	}{
		{"malformed tree", func(j *optimizer.Job) {
			j.Tree = &strategy.IndicatorNode{Header: strategy.Header{ID: "gate"}}
		}},
		{"missing cut", func(j *optimizer.Job) { j.Split.Cut = time.Time{} }},
		{"cut after data", func(j *optimizer.Job) { j.Split.Cut = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }},
		{"unknown split", func(j *optimizer.Job) { j.Split.Kind = "monthly" }},
		{"bad requirement", func(j *optimizer.Job) {
			j.Requirements = []optimizer.Requirement{{Metric: "alpha", Op: optimizer.OpGreater}}
		}},
		{"too many branches", func(j *optimizer.Job) { j.MaxBranches = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, 300)
			tt.mutate(&job)
			rec := &recorder{}

			report, err := optimizer.Run(context.Background(), job, optimizer.Options{OnProgress: rec.record})
			require.Error(t, err)
			assert.Equal(t, optimizer.StatusError, report.Status)
			assert.NotEmpty(t, report.Message)
			assert.Equal(t, optimizer.StatusError, rec.last().Status)
		})
	}
}

func TestRun_Cancellation(t *testing.T) {
	job := newJob(t, 400)
	job.Ranges = thresholdRange("1", "20", "1")
	job.Workers = 1

	var completed atomic.Int64
	rec := &recorder{}
	report, err := optimizer.Run(context.Background(), job, optimizer.Options{
		OnProgress: func(p optimizer.Progress) {
			completed.Store(int64(p.CompletedBranches))
			rec.record(p)
		},
		ShouldCancel: func() bool { return completed.Load() >= 2 },
	})

	require.ErrorIs(t, err, optimizer.ErrCancelled)
	assert.Equal(t, optimizer.StatusCancelled, report.Status)
	assert.GreaterOrEqual(t, len(report.Results), 2)
	assert.Less(t, len(report.Results), 20)
	assert.Equal(t, optimizer.StatusCancelled, rec.last().Status)
}

func TestRun_ContextCancellation(t *testing.T) {
	job := newJob(t, 300)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := optimizer.Run(ctx, job, optimizer.Options{})
	require.ErrorIs(t, err, optimizer.ErrCancelled)
	assert.Empty(t, report.Results)
}

func TestRun_Rolling(t *testing.T) {
	job := newJob(t, 780)
	job.Split = optimizer.Split{Kind: optimizer.SplitRolling}

	report, err := optimizer.Run(context.Background(), job, optimizer.Options{})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	res := report.Results[0]
	require.Empty(t, res.Error)
	assert.Contains(t, res.Yearly, 2018)
	assert.Contains(t, res.Yearly, 2020)
	require.Len(t, res.Rolling, 2)
	assert.Equal(t, 2019, res.Rolling[0].StartYear)
	assert.Equal(t, 2020, res.Rolling[1].StartYear)
	assert.Equal(t, 2019, res.OOSStart.Year())
	assert.Equal(t, res.Rolling[0].InSample, res.InSample)
	assert.Equal(t, 2020, res.Rolling[1].OutOfSample.Start.Year())
}

func TestRank(t *testing.T) {
	metrics := func(sharpe, dd float64) types.Metrics {
		m := types.EmptyMetrics()
		m.Sharpe = types.Num(sharpe)
		m.MaxDrawdown = types.Num(dd)
		return m
	}
	results := []*optimizer.Result{
		{BranchID: 0, Pass: true, InSample: metrics(1, 0.3)},
		{BranchID: 1, Pass: true, InSample: metrics(math.NaN(), 0.1)},
		{BranchID: 2, Pass: true, InSample: metrics(3, 0.2)},
		{BranchID: 3, Pass: true, InSample: metrics(3, math.NaN())},
		{BranchID: 4, Pass: false, InSample: metrics(9, 0.01)},
	}

	rankings := optimizer.Rank(results, []types.MetricName{types.MetricSharpe, types.MetricMaxDrawdown}, 3)
	require.Len(t, rankings, 2)
	assert.Equal(t, []int{2, 3, 0}, rankings[0].BranchIDs)
	assert.Equal(t, []int{1, 2, 0}, rankings[1].BranchIDs)
}
