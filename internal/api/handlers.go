package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mExOms/quantree/internal/backtest"
	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/robustness"
	"github.com/mExOms/quantree/internal/shard"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// EvaluateRequest runs one tree over a date range
type EvaluateRequest struct {
	Strategy  strategy.Document `json:"strategy"`
	Range     marketdata.Range  `json:"range"`
	Mode      types.FillMode    `json:"mode,omitempty"`
	CostBps   *float64          `json:"cost_bps,omitempty"`
	Benchmark string            `json:"benchmark,omitempty"`
	Seed      int64             `json:"seed,omitempty"`
	Yearly    bool              `json:"yearly,omitempty"`
}

// EvaluateResponse carries the simulation and its analysis
type EvaluateResponse struct {
	Metrics  types.Metrics         `json:"metrics"`
	Yearly   map[int]types.Metrics `json:"yearly,omitempty"`
	Analysis *backtest.Report      `json:"analysis"`
	Result   *backtest.Result      `json:"result"`
}

// BranchesRequest previews the branches of a parameter sweep
type BranchesRequest struct {
	Strategy    strategy.Document `json:"strategy"`
	Ranges      []branch.Range    `json:"ranges"`
	MaxBranches int               `json:"max_branches,omitempty"`
}

// BranchesResponse lists generated branches
type BranchesResponse struct {
	Count    int              `json:"count"`
	Branches []*branch.Branch `json:"branches"`
}

// RobustnessRequest analyzes either a given return series or the series of
// an evaluated tree
type RobustnessRequest struct {
	Series   *robustness.ReturnSeries `json:"series,omitempty"`
	Evaluate *EvaluateRequest         `json:"evaluate,omitempty"`
	Config   *robustness.Config       `json:"config,omitempty"`
}

// ShardSource names finished branches of a job run by this server
type ShardSource struct {
	JobID     string `json:"job_id"`
	BranchIDs []int  `json:"branch_ids"`
}

// CombineRequest joins branches into one tree. Branches are taken as given
// and Sources are resolved against finished jobs.
type CombineRequest struct {
	Branches []shard.ShardBranch `json:"branches,omitempty"`
	Sources  []ShardSource       `json:"sources,omitempty"`
	Kind     optimizer.SplitKind `json:"kind,omitempty"`
	Filter   string              `json:"filter,omitempty"`
}

// CombineResponse holds the shard and the combined tree
type CombineResponse struct {
	Shard    *shard.Shard      `json:"shard"`
	Strategy strategy.Document `json:"strategy"`
	OOSStart time.Time         `json:"oos_start"`
}

// RunEvaluation validates the request's tree, loads its prices and
// simulates it. Unset mode and cost come from d.
func RunEvaluation(ctx context.Context, loader jobs.TableLoader, req *EvaluateRequest, d jobs.Defaults) (*backtest.Result, error) {
	if req.Strategy.Root == nil {
		return nil, fmt.Errorf("request has no strategy")
	}
	if err := strategy.Validate(req.Strategy.Root, req.Strategy.Library); err != nil {
		return nil, err
	}
	mode, err := types.ParseFillMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	if req.Mode == "" && d.Mode != "" {
		mode = d.Mode
	}
	costBps := d.CostBps
	if req.CostBps != nil {
		costBps = *req.CostBps
	}

	table, err := jobs.LoadTable(ctx, loader, req.Strategy, req.Range, req.Benchmark)
	if err != nil {
		return nil, err
	}
	return backtest.Evaluate(req.Strategy.Root, table, mode, costBps, backtest.Options{
		Library:   req.Strategy.Library,
		Seed:      req.Seed,
		Benchmark: req.Benchmark,
	})
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decode(w, r, &req) {
		return
	}

	started := time.Now()
	result, err := RunEvaluation(r.Context(), s.opts.Loader, &req, s.opts.Defaults)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveOperation("evaluate", started, err)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := EvaluateResponse{
		Metrics:  result.Metrics,
		Analysis: backtest.NewResultAnalyzer(result).GenerateReport(),
		Result:   result,
	}
	if req.Yearly {
		yearly, err := result.YearlyMetrics()
		if err != nil {
			writeFailure(w, err)
			return
		}
		resp.Yearly = yearly
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) branches(w http.ResponseWriter, r *http.Request) {
	var req BranchesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Strategy.Root == nil {
		writeError(w, http.StatusBadRequest, "request has no strategy")
		return
	}
	limit := req.MaxBranches
	if limit <= 0 {
		limit = s.opts.Defaults.MaxBranches
	}

	branches, err := branch.Generate(req.Strategy.Root, req.Strategy.Library, req.Ranges, branch.Options{MaxBranches: limit})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BranchesResponse{Count: len(branches), Branches: branches})
}

func (s *Server) robustness(w http.ResponseWriter, r *http.Request) {
	var req RobustnessRequest
	if !decode(w, r, &req) {
		return
	}

	var series robustness.ReturnSeries
	switch {
	case req.Series != nil:
		series = *req.Series
	case req.Evaluate != nil:
		result, err := RunEvaluation(r.Context(), s.opts.Loader, req.Evaluate, s.opts.Defaults)
		if err != nil {
			writeFailure(w, err)
			return
		}
		series = robustness.FromResult(result)
	default:
		writeError(w, http.StatusBadRequest, "request needs a series or a strategy to evaluate")
		return
	}

	cfg := s.opts.Robustness
	if req.Config != nil {
		cfg = *req.Config
	}

	started := time.Now()
	report, err := robustness.Analyze(series, cfg)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveOperation("robustness", started, err)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) combine(w http.ResponseWriter, r *http.Request) {
	var req CombineRequest
	if !decode(w, r, &req) {
		return
	}

	branches := req.Branches
	for _, src := range req.Sources {
		if s.opts.Jobs == nil {
			writeError(w, http.StatusServiceUnavailable, "job manager unavailable")
			return
		}
		selected, err := s.opts.Jobs.Select(src.JobID, src.BranchIDs)
		if err != nil {
			writeFailure(w, err)
			return
		}
		branches = append(branches, selected...)
	}

	sh, err := shard.New(branches, req.Filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	root, oosStart, err := sh.Combine(req.Kind)
	if err != nil {
		writeFailure(w, err)
		return
	}
	lib, err := shard.MergeLibraries(sh.Branches())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CombineResponse{
		Shard:    sh,
		Strategy: strategy.Document{Root: root, Library: lib},
		OOSStart: oosStart,
	})
}
