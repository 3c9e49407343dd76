package engine

import (
	"math"

	"github.com/mExOms/quantree/internal/indicator"
	"github.com/mExOms/quantree/internal/strategy"
)

// operands holds both sides of a condition over the whole table.
// right is nil when the condition compares against a threshold.
type operands struct {
	left      []float64
	right     []float64
	threshold float64
}

func (o operands) rightAt(t int) float64 {
	if o.right == nil {
		return o.threshold
	}
	return o.right[t]
}

func resolveOperands(cache *indicator.Cache, c strategy.ConditionLine) (operands, error) {
	left, err := cache.Series(c.Ticker, c.Metric, c.Window)
	if err != nil {
		return operands{}, err
	}
	op := operands{left: left}
	if c.Threshold != nil {
		op.threshold = *c.Threshold
		return op, nil
	}
	op.right, err = cache.Series(c.RightTicker, c.RightMetric, c.RightWindow)
	if err != nil {
		return operands{}, err
	}
	return op, nil
}

func defined(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// above and below are strict; undefined operands are never true
func (o operands) above(t int) bool {
	l, r := o.left[t], o.rightAt(t)
	return defined(l, r) && l > r
}

func (o operands) below(t int) bool {
	l, r := o.left[t], o.rightAt(t)
	return defined(l, r) && l < r
}

func (o operands) atMost(t int) bool {
	l, r := o.left[t], o.rightAt(t)
	return defined(l, r) && l <= r
}

func (o operands) atLeast(t int) bool {
	l, r := o.left[t], o.rightAt(t)
	return defined(l, r) && l >= r
}

// holds evaluates one condition line at t. A crossing must occur on the day
// ForDays-1 sessions ago and the new side must have held every day since.
func holds(c strategy.ConditionLine, o operands, t int) bool {
	days := c.Days()
	first := t - days + 1
	if first < 0 {
		return false
	}

	switch c.Comparator {
	case strategy.LessThan, strategy.GreaterThan:
		for k := first; k <= t; k++ {
			if c.Comparator == strategy.LessThan && !o.below(k) {
				return false
			}
			if c.Comparator == strategy.GreaterThan && !o.above(k) {
				return false
			}
		}
		return true
	case strategy.CrossesAbove:
		if first < 1 || !o.atMost(first-1) {
			return false
		}
		for k := first; k <= t; k++ {
			if !o.above(k) {
				return false
			}
		}
		return true
	case strategy.CrossesBelow:
		if first < 1 || !o.atLeast(first-1) {
			return false
		}
		for k := first; k <= t; k++ {
			if !o.below(k) {
				return false
			}
		}
		return true
	}
	return false
}

// ConditionSeries evaluates c on every date of the cache's table
func ConditionSeries(cache *indicator.Cache, c strategy.ConditionLine) ([]bool, error) {
	o, err := resolveOperands(cache, c)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(o.left))
	for t := range out {
		out[t] = holds(c, o, t)
	}
	return out, nil
}

// conditionsHold folds condition lines left to right with their joins.
// An empty list is true.
func (e *Evaluator) conditionsHold(lines []strategy.ConditionLine, t int) (bool, error) {
	result := true
	for i, c := range lines {
		o, err := resolveOperands(e.cache, c)
		if err != nil {
			return false, err
		}
		v := holds(c, o, t)
		switch {
		case i == 0:
			result = v
		case c.Join == strategy.JoinOr:
			result = result || v
		default:
			result = result && v
		}
	}
	return result, nil
}
