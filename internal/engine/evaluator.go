// Package engine turns a strategy tree and an aligned price table into a
// daily sequence of target allocations.
package engine

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/quantree/internal/indicator"
	"github.com/mExOms/quantree/internal/strategy"
	"github.com/mExOms/quantree/pkg/types"
)

// InsufficientHistoryError is returned when the table is shorter than the
// tree's lookback
type InsufficientHistoryError struct {
	Required  int
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: tree needs %d trading days, table has %d", e.Required, e.Available)
}

// Options configures an Evaluator
type Options struct {
	Library strategy.Library
	// Seed drives random selection in numbered nodes
	Seed int64
	// Cache is shared across evaluators of the same table when set
	Cache *indicator.Cache
}

// Evaluator walks a tree over every trading date of one price table.
// An Evaluator is not safe for concurrent use; its random source is
// advanced on every date.
type Evaluator struct {
	table  *types.PriceTable
	lib    strategy.Library
	cache  *indicator.Cache
	rng    *rand.Rand
	logger *logrus.Entry
}

// New creates an evaluator over table
func New(table *types.PriceTable, opts Options) *Evaluator {
	cache := opts.Cache
	if cache == nil || cache.Table() != table {
		cache = indicator.NewCache(table)
	}
	return &Evaluator{
		table:  table,
		lib:    opts.Library,
		cache:  cache,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logrus.WithField("component", "evaluator"),
	}
}

// Cache returns the indicator cache used by the evaluator
func (e *Evaluator) Cache() *indicator.Cache {
	return e.cache
}

// Run validates root and evaluates it on every date from the first one at
// which all of its indicators are defined through the last date of the
// table.
func (e *Evaluator) Run(root strategy.Node) ([]types.AllocationDay, error) {
	if err := strategy.Validate(root, e.lib); err != nil {
		return nil, err
	}
	for _, ticker := range strategy.Tickers(root, e.lib) {
		if _, ok := e.table.Get(ticker); !ok {
			return nil, fmt.Errorf("ticker %s is not in the price table", ticker)
		}
	}

	start, err := strategy.Lookback(root, e.lib)
	if err != nil {
		return nil, err
	}
	if start >= e.table.Len() {
		return nil, &InsufficientHistoryError{Required: start + 1, Available: e.table.Len()}
	}

	days := make([]types.AllocationDay, 0, e.table.Len()-start)
	for t := start; t < e.table.Len(); t++ {
		a, err := e.eval(root, t, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", e.table.Dates[t].Format(types.DateLayout), err)
		}
		days = append(days, types.AllocationDay{Date: e.table.Dates[t], Weights: a.positive()})
	}

	e.logger.Debugf("Evaluated %s over %d days starting %s", root.NodeID(), len(days),
		e.table.Dates[start].Format(types.DateLayout))
	return days, nil
}

// Allocate evaluates root on the single date index t
func (e *Evaluator) Allocate(root strategy.Node, t int) (map[string]float64, error) {
	if t < 0 || t >= e.table.Len() {
		return nil, fmt.Errorf("date index %d out of range", t)
	}
	a, err := e.eval(root, t, nil)
	if err != nil {
		return nil, err
	}
	return a.positive(), nil
}

func (e *Evaluator) eval(n strategy.Node, t int, chain []string) (allocation, error) {
	switch v := n.(type) {
	case *strategy.BasicNode:
		return e.evalSlot(v.Weighting, v.Next, t, chain)
	case *strategy.FunctionNode:
		return e.evalFunction(v, t, chain)
	case *strategy.IndicatorNode:
		ok, err := e.conditionsHold(v.Conditions, t)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", v.ID, err)
		}
		if ok {
			return e.evalSlot(v.Weighting, v.Then, t, chain)
		}
		return e.evalSlot(v.Weighting, v.Else, t, chain)
	case *strategy.PositionNode:
		return positionAllocation(v.Tickers), nil
	case *strategy.NumberedNode:
		return e.evalNumbered(v, t, chain)
	case *strategy.ScalingNode:
		return e.evalScaling(v, t, chain)
	case *strategy.CallNode:
		for _, id := range chain {
			if id == v.CallID {
				return nil, &strategy.CycleError{ChainID: v.CallID, Path: append(append([]string(nil), chain...), v.CallID)}
			}
		}
		target, ok := e.lib[v.CallID]
		if !ok {
			return nil, &strategy.UnknownCallError{NodeID: v.ID, CallID: v.CallID}
		}
		return e.eval(target, t, append(append([]string(nil), chain...), v.CallID))
	}
	return nil, fmt.Errorf("unsupported node type %T", n)
}

// evalSlot evaluates every child of a slot and combines them
func (e *Evaluator) evalSlot(w strategy.Weighting, children []strategy.Node, t int, chain []string) (allocation, error) {
	allocs := make([]allocation, 0, len(children))
	for _, c := range children {
		a, err := e.eval(c, t, chain)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return e.weigh(w, allocs, t)
}

func positionAllocation(tickers []string) allocation {
	out := make(allocation)
	if len(tickers) == 0 {
		return out
	}
	share := 1.0 / float64(len(tickers))
	for _, t := range tickers {
		if t == strategy.CashTicker {
			continue
		}
		out[t] += share
	}
	return out
}
