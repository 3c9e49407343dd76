package strategy

import (
	"github.com/mExOms/quantree/internal/indicator"
)

// conditionLookback is the first index at which c can be decided
func conditionLookback(c ConditionLine) (int, error) {
	lb, err := indicator.Lookback(c.Metric, c.Window)
	if err != nil {
		return 0, err
	}
	if c.RightMetric != "" {
		right, err := indicator.Lookback(c.RightMetric, c.RightWindow)
		if err != nil {
			return 0, err
		}
		lb = max(lb, right)
	}
	lb += c.Days() - 1
	if c.Comparator.Crossing() {
		lb++
	}
	return lb, nil
}

// Lookback returns the first table index at which every indicator,
// condition and volatility window used by root or a chain it calls is
// defined, assuming gap-free prices.
func Lookback(root Node, lib Library) (int, error) {
	start := 0
	visited := make(map[string]bool)

	var visit func(Node) error
	visit = func(tree Node) error {
		var err error
		Walk(tree, func(n Node) bool {
			if err != nil {
				return false
			}
			for _, c := range Conditions(n) {
				lb, e := conditionLookback(c)
				if e != nil {
					err = e
					return false
				}
				start = max(start, lb)
			}
			switch v := n.(type) {
			case *FunctionNode:
				lb, e := indicator.Lookback(v.Metric, v.Window)
				if e != nil {
					err = e
					return false
				}
				start = max(start, lb)
			case *ScalingNode:
				lb, e := indicator.Lookback(v.Metric, v.Window)
				if e != nil {
					err = e
					return false
				}
				start = max(start, lb)
			case *CallNode:
				target, ok := lib[v.CallID]
				if !ok {
					err = &UnknownCallError{NodeID: v.ID, CallID: v.CallID}
					return false
				}
				if !visited[v.CallID] {
					visited[v.CallID] = true
					err = visit(target)
				}
			}
			if w, ok := WeightingOf(n); ok {
				switch w.EffectiveMode() {
				case WeightInverseVol, WeightProVol:
					start = max(start, w.VolWindow())
				}
			}
			return err == nil
		})
		return err
	}

	if err := visit(root); err != nil {
		return 0, err
	}
	return start, nil
}
