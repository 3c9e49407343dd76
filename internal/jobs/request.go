package jobs

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// TableLoader returns aligned prices; *marketdata.Loader implements it
type TableLoader interface {
	Load(ctx context.Context, tickers []string, r marketdata.Range) (*types.PriceTable, error)
}

// Request is the wire form of an optimization job
type Request struct {
	ID           string                  `json:"id,omitempty"`
	Strategy     strategy.Document       `json:"strategy"`
	Range        marketdata.Range        `json:"range"`
	Ranges       []branch.Range          `json:"ranges"`
	Split        optimizer.Split         `json:"split"`
	Requirements []optimizer.Requirement `json:"requirements,omitempty"`
	RankBy       []types.MetricName      `json:"rank_by,omitempty"`
	TopK         int                     `json:"top_k,omitempty"`
	Mode         types.FillMode          `json:"mode,omitempty"`
	CostBps      *float64                `json:"cost_bps,omitempty"`
	Benchmark    string                  `json:"benchmark,omitempty"`
	Workers      int                     `json:"workers,omitempty"`
	Seed         int64                   `json:"seed,omitempty"`
	MaxBranches  int                     `json:"max_branches,omitempty"`
}

// Defaults fill fields a request leaves unset
type Defaults struct {
	Workers     int
	MaxBranches int
	TopK        int
	Mode        types.FillMode
	CostBps     float64
}

// LoadTable loads the aligned prices every ticker of doc needs, plus the
// benchmark when set
func LoadTable(ctx context.Context, loader TableLoader, doc strategy.Document, r marketdata.Range, benchmark string) (*types.PriceTable, error) {
	if doc.Root == nil {
		return nil, fmt.Errorf("request has no strategy")
	}
	tickers := strategy.Tickers(doc.Root, doc.Library)
	if benchmark != "" {
		tickers = lo.Uniq(append(tickers, benchmark))
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("strategy references no tickers")
	}
	table, err := loader.Load(ctx, tickers, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	return table, nil
}

// Job loads the prices the request's tree needs and builds the optimizer
// job
func (r *Request) Job(ctx context.Context, loader TableLoader, d Defaults) (optimizer.Job, error) {
	table, err := LoadTable(ctx, loader, r.Strategy, r.Range, r.Benchmark)
	if err != nil {
		return optimizer.Job{}, err
	}

	job := optimizer.Job{
		ID:           r.ID,
		Tree:         r.Strategy.Root,
		Library:      r.Strategy.Library,
		Table:        table,
		Ranges:       r.Ranges,
		Split:        r.Split,
		Requirements: r.Requirements,
		RankBy:       r.RankBy,
		TopK:         lo.Ternary(r.TopK > 0, r.TopK, d.TopK),
		Mode:         lo.Ternary(r.Mode != "", r.Mode, d.Mode),
		CostBps:      d.CostBps,
		Benchmark:    r.Benchmark,
		Workers:      lo.Ternary(r.Workers > 0, r.Workers, d.Workers),
		Seed:         r.Seed,
		MaxBranches:  lo.Ternary(r.MaxBranches > 0, r.MaxBranches, d.MaxBranches),
	}
	if r.CostBps != nil {
		job.CostBps = *r.CostBps
	}
	if job.Split.Kind == "" {
		job.Split.Kind = optimizer.SplitChronological
	}
	return job, nil
}
