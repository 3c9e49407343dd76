package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/mExOms/quantree/internal/strategy"
)

type candidate struct {
	alloc allocation
	score float64
}

// score is the allocation-weighted mean of metric over a's tickers.
// Empty allocations and undefined inputs score NaN.
func (e *Evaluator) score(a allocation, metric string, window, t int) (float64, error) {
	total := a.total()
	if total <= 0 {
		return math.NaN(), nil
	}
	sum := 0.0
	for _, ticker := range a.tickers() {
		values, err := e.cache.Series(ticker, metric, window)
		if err != nil {
			return 0, err
		}
		v := values[t]
		if !defined(v) {
			return math.NaN(), nil
		}
		sum += a[ticker] * v
	}
	return sum / total, nil
}

func (e *Evaluator) evalFunction(n *strategy.FunctionNode, t int, chain []string) (allocation, error) {
	eligible := make([]candidate, 0, len(n.Next))
	for _, child := range n.Next {
		a, err := e.eval(child, t, chain)
		if err != nil {
			return nil, err
		}
		s, err := e.score(a, n.Metric, n.Window, t)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		if defined(s) {
			eligible = append(eligible, candidate{alloc: a, score: s})
		}
	}

	bottom := n.Select == strategy.SelectBottom
	sort.SliceStable(eligible, func(i, j int) bool {
		if bottom {
			return eligible[i].score < eligible[j].score
		}
		return eligible[i].score > eligible[j].score
	})
	if len(eligible) > n.FunctionCount() {
		eligible = eligible[:n.FunctionCount()]
	}

	selected := make([]allocation, len(eligible))
	for i, c := range eligible {
		selected[i] = c.alloc
	}
	return e.weigh(n.Weighting, selected, t)
}

func (e *Evaluator) evalNumbered(n *strategy.NumberedNode, t int, chain []string) (allocation, error) {
	var truthy []int
	for i, item := range n.Items {
		ok, err := e.conditionsHold(item.Conditions, t)
		if err != nil {
			return nil, fmt.Errorf("node %s item %d: %w", n.ID, i, err)
		}
		if ok {
			truthy = append(truthy, i)
		}
	}
	if len(truthy) == 0 {
		return e.evalSlot(n.Weighting, n.Else, t, chain)
	}

	chosen := truthy
	if count := n.SelectCount(); len(truthy) > count {
		if n.Quantifier == strategy.QuantifierTopN {
			chosen = truthy[:count]
		} else {
			picks := e.rng.Perm(len(truthy))[:count]
			sort.Ints(picks)
			chosen = make([]int, count)
			for i, p := range picks {
				chosen[i] = truthy[p]
			}
		}
	}

	items := make([]allocation, 0, len(chosen))
	for _, idx := range chosen {
		a, err := e.evalSlot(strategy.Weighting{}, n.Items[idx].Next, t, chain)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return e.weigh(n.Weighting, items, t)
}

// scaleFraction maps v from [from, to] onto [0, 1]. Undefined values map
// to 0; a degenerate range is a step at to.
func scaleFraction(v, from, to float64) float64 {
	if !defined(v) {
		return 0
	}
	if from == to {
		if v >= to {
			return 1
		}
		return 0
	}
	f := (v - from) / (to - from)
	return math.Max(0, math.Min(1, f))
}

func (e *Evaluator) evalScaling(n *strategy.ScalingNode, t int, chain []string) (allocation, error) {
	values, err := e.cache.Series(n.Ticker, n.Metric, n.Window)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	frac := scaleFraction(values[t], n.From, n.To)

	then, err := e.evalSlot(n.Weighting, n.Then, t, chain)
	if err != nil {
		return nil, err
	}
	els, err := e.evalSlot(n.Weighting, n.Else, t, chain)
	if err != nil {
		return nil, err
	}

	out := make(allocation)
	out.add(then, frac)
	out.add(els, 1-frac)
	return out, nil
}
