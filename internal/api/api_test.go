package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/quantree/internal/api"
	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/robustness"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/cache"
	"github.com/mExOms/quantree/pkg/types"
)

var epoch = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	server  *httptest.Server
	manager *jobs.Manager
	metrics *monitor.Metrics
}

func newFixture(t *testing.T, limiter *cache.RateLimiter) *fixture {
	t.Helper()
	source := marketdata.NewMemorySource(
		marketdata.RandomWalk("SPY", epoch, 500, 1, 0.0004, 0.01),
		marketdata.RandomWalk("TLT", epoch, 500, 2, 0.0001, 0.006),
	)
	metrics := monitor.NewMetrics()
	manager := jobs.NewManager(jobs.Options{Metrics: metrics})
	health := monitor.NewHealthChecker("test")
	health.RegisterCheck("data", monitor.DataDirHealthCheck(t.TempDir()))

	s := api.NewServer(api.Options{
		Loader:     marketdata.NewLoader(source, nil, 0),
		Jobs:       manager,
		Defaults:   jobs.Defaults{Workers: 2, TopK: 3, Mode: types.FillCloseToClose},
		Robustness: robustness.Config{Paths: 40, PathYears: 1, BlockDays: 60, Folds: 20, Seed: 1},
		Metrics:    metrics,
		Health:     health,
		Limiter:    limiter,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		manager.Stop()
	})
	return &fixture{server: srv, manager: manager, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func hold(ticker string) strategy.Document {
	return strategy.Document{Root: &strategy.PositionNode{Header: strategy.Header{ID: "hold"}, Tickers: []string{ticker}}}
}

func gate() strategy.Document {
	threshold := 50.0
	return strategy.Document{Root: &strategy.IndicatorNode{
		Header: strategy.Header{ID: "gate"},
		Conditions: []strategy.ConditionLine{
			{Ticker: "SPY", Metric: "rsi", Window: 14, Comparator: strategy.LessThan, Threshold: &threshold},
		},
		Then: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "long"}, Tickers: []string{"SPY"}}},
		Else: []strategy.Node{&strategy.PositionNode{Header: strategy.Header{ID: "bonds"}, Tickers: []string{"TLT"}}},
	}}
}

func thresholdRange() []branch.Range {
	return []branch.Range{{
		Path: "gate.conditions[0].threshold",
		Min:  decimal.NewFromInt(40),
		Max:  decimal.NewFromInt(60),
		Step: decimal.NewFromInt(5),
	}}
}

func jobRequest(id string) jobs.Request {
	return jobs.Request{
		ID:       id,
		Strategy: gate(),
		Ranges:   thresholdRange(),
		Split:    optimizer.Split{Kind: optimizer.SplitChronological, Cut: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func (f *fixture) submitAndWait(t *testing.T, id string) {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/v1/jobs", jobRequest(id))
	require.Equal(t, http.StatusAccepted, status, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := f.manager.Wait(ctx, id)
	require.NoError(t, err)
}

func TestEvaluate_BuyAndHold(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Strategy: hold("SPY"), Yearly: true})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp struct {
		Metrics  types.Metrics              `json:"metrics"`
		Yearly   map[string]types.Metrics   `json:"yearly"`
		Analysis map[string]json.RawMessage `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 499, resp.Metrics.TradingDays)
	assert.NotEmpty(t, resp.Yearly)
	assert.Contains(t, resp.Analysis, "summary")
}

func TestEvaluate_Errors(t *testing.T) {
	f := newFixture(t, nil)

	status, _ := f.do(t, http.MethodPost, "/v1/evaluate", "not an object")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Strategy: hold("QQQ")})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = f.do(t, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Strategy: hold("SPY"), Mode: "XX"})
	assert.Equal(t, http.StatusBadRequest, status)

	cyclic := strategy.Document{
		Root:    &strategy.CallNode{Header: strategy.Header{ID: "call"}, CallID: "loop"},
		Library: strategy.Library{"loop": &strategy.CallNode{Header: strategy.Header{ID: "again"}, CallID: "loop"}},
	}
	status, _ = f.do(t, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Strategy: cyclic})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestBranches(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/v1/branches", api.BranchesRequest{Strategy: gate(), Ranges: thresholdRange()})
	require.Equal(t, http.StatusOK, status, string(body))
	var resp struct {
		Count    int `json:"count"`
		Branches []struct {
			ID    int    `json:"id"`
			Label string `json:"label"`
		} `json:"branches"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 5, resp.Count)
	assert.Equal(t, 4, resp.Branches[4].ID)

	status, _ = f.do(t, http.MethodPost, "/v1/branches", api.BranchesRequest{Strategy: gate(), Ranges: thresholdRange(), MaxBranches: 2})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestJobs_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.submitAndWait(t, "job-1")

	status, body := f.do(t, http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, status)
	var record jobs.Record
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, optimizer.StatusCompleted, record.Status)
	assert.Equal(t, 5, record.CompletedBranches)

	status, body = f.do(t, http.MethodGet, "/v1/jobs/job-1/results", nil)
	require.Equal(t, http.StatusOK, status)
	var report optimizer.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Len(t, report.Results, 5)

	status, body = f.do(t, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, status)
	var list []jobs.Record
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	status, _ = f.do(t, http.MethodPost, "/v1/jobs", jobRequest("job-1"))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodDelete, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodDelete, "/v1/jobs/job-1", nil)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestJobs_RateLimited(t *testing.T) {
	limiter := cache.NewRateLimiter(1, time.Minute)
	defer limiter.Close()
	f := newFixture(t, limiter)

	f.submitAndWait(t, "first")
	status, _ := f.do(t, http.MethodPost, "/v1/jobs", jobRequest("second"))
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestJobs_Stream(t *testing.T) {
	f := newFixture(t, nil)
	f.submitAndWait(t, "streamed")

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/jobs/streamed/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))

	var first, last api.StreamMessage
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, api.MsgTypeProgress, first.Type)
	require.NoError(t, ws.ReadJSON(&last))
	assert.Equal(t, api.MsgTypeDone, last.Type)
	data, ok := last.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", data["status"])

	status, _ := f.do(t, http.MethodGet, "/v1/jobs/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRobustness(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/v1/robustness", api.RobustnessRequest{
		Evaluate: &api.EvaluateRequest{Strategy: hold("SPY")},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var report robustness.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 499, report.Days)
	assert.Equal(t, 40, report.Config.Paths)

	status, _ = f.do(t, http.MethodPost, "/v1/robustness", api.RobustnessRequest{
		Series: &robustness.ReturnSeries{Returns: []float64{0.01}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = f.do(t, http.MethodPost, "/v1/robustness", api.RobustnessRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCombine_FromJobs(t *testing.T) {
	f := newFixture(t, nil)
	f.submitAndWait(t, "source")

	status, body := f.do(t, http.MethodPost, "/v1/shards/combine", api.CombineRequest{
		Sources: []api.ShardSource{{JobID: "source", BranchIDs: []int{0, 3}}},
		Filter:  "top sharpe",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp struct {
		Shard struct {
			SourceJobIDs []string          `json:"source_job_ids"`
			Branches     []json.RawMessage `json:"branches"`
		} `json:"shard"`
		Strategy strategy.Document `json:"strategy"`
		OOSStart time.Time         `json:"oos_start"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, []string{"source"}, resp.Shard.SourceJobIDs)
	assert.Len(t, resp.Shard.Branches, 2)
	root, ok := resp.Strategy.Root.(*strategy.NumberedNode)
	require.True(t, ok)
	assert.Len(t, root.Items, 2)
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), resp.OOSStart)

	status, _ = f.do(t, http.MethodPost, "/v1/shards/combine", api.CombineRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/v1/shards/combine", api.CombineRequest{
		Sources: []api.ShardSource{{JobID: "missing", BranchIDs: []int{0}}},
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	var health monitor.SystemHealth
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, monitor.HealthStatusHealthy, health.Status)

	f.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	status, body = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `quantree_http_requests_total{code="404",method="GET",route="/v1/jobs/{id}"} 1`)
}
