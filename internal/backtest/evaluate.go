package backtest

import (
	"fmt"

	"github.com/mExOms/quantree/internal/engine"
	"github.com/mExOms/quantree/internal/indicator"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// Options carries the optional inputs of Evaluate
type Options struct {
	Library   strategy.Library
	Seed      int64
	Benchmark string
	Cache     *indicator.Cache
}

// Evaluate runs root over table and simulates the resulting allocations.
// Identical inputs produce identical results.
func Evaluate(root strategy.Node, table *types.PriceTable, mode types.FillMode, costBps float64, opts Options) (*Result, error) {
	evaluator := engine.New(table, engine.Options{
		Library: opts.Library,
		Seed:    opts.Seed,
		Cache:   opts.Cache,
	})
	allocations, err := evaluator.Run(root)
	if err != nil {
		return nil, err
	}

	result, err := Simulate(table, allocations, Config{Mode: mode, CostBps: costBps, Benchmark: opts.Benchmark})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate: %w", err)
	}
	return result, nil
}
