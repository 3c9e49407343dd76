package strategy

import (
	"fmt"
	"strings"

	"github.com/mExOms/quantree/internal/indicator"
)

// ValidationError reports a malformed node
type ValidationError struct {
	NodeID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid node %q: %s", e.NodeID, e.Reason)
}

// CycleError reports a call chain that reaches itself
type CycleError struct {
	ChainID string
	Path    []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("call chain %q is cyclic: %s", e.ChainID, strings.Join(e.Path, " -> "))
}

// UnknownCallError reports a call node whose target is not in the library
type UnknownCallError struct {
	NodeID string
	CallID string
}

func (e *UnknownCallError) Error() string {
	return fmt.Sprintf("node %q calls unknown chain %q", e.NodeID, e.CallID)
}

func invalid(n Node, format string, args ...interface{}) error {
	return &ValidationError{NodeID: n.NodeID(), Reason: fmt.Sprintf(format, args...)}
}

// Validate checks root and every library entry it reaches: unique ids,
// known metrics, well-formed conditions and weightings, resolvable and
// acyclic calls.
func Validate(root Node, lib Library) error {
	if root == nil {
		return &ValidationError{Reason: "tree has no root"}
	}
	if err := validateTree(root, lib); err != nil {
		return err
	}
	for id, n := range lib {
		if n == nil {
			return &ValidationError{NodeID: id, Reason: "library entry is empty"}
		}
		if err := validateTree(n, lib); err != nil {
			return fmt.Errorf("call chain %s: %w", id, err)
		}
	}
	return CheckCycles(root, lib)
}

func validateTree(root Node, lib Library) error {
	seen := make(map[string]bool)
	var err error
	Walk(root, func(n Node) bool {
		if err != nil {
			return false
		}
		if n == nil {
			err = &ValidationError{Reason: "nil child"}
			return false
		}
		if n.NodeID() == "" {
			err = &ValidationError{Reason: fmt.Sprintf("%s node without id", n.Kind())}
			return false
		}
		if seen[n.NodeID()] {
			err = invalid(n, "duplicate node id")
			return false
		}
		seen[n.NodeID()] = true
		err = validateNode(n, lib)
		return err == nil
	})
	return err
}

func validateNode(n Node, lib Library) error {
	switch v := n.(type) {
	case *BasicNode:
		return validateWeighting(n, v.Weighting, len(v.Next))
	case *FunctionNode:
		if _, err := indicator.Lookback(v.Metric, v.Window); err != nil {
			return invalid(n, "%v", err)
		}
		if v.Select != "" && v.Select != SelectTop && v.Select != SelectBottom {
			return invalid(n, "unknown select %q", v.Select)
		}
		if v.Count < 0 {
			return invalid(n, "negative count")
		}
		return validateWeighting(n, v.Weighting, v.FunctionCount())
	case *IndicatorNode:
		if len(v.Conditions) == 0 {
			return invalid(n, "indicator node without conditions")
		}
		if err := validateConditions(n, v.Conditions); err != nil {
			return err
		}
		return validateWeighting(n, v.Weighting, max(len(v.Then), len(v.Else)))
	case *PositionNode:
		for _, t := range v.Tickers {
			if strings.TrimSpace(t) == "" {
				return invalid(n, "blank ticker")
			}
		}
		return nil
	case *NumberedNode:
		if v.Quantifier != "" && v.Quantifier != QuantifierAny && v.Quantifier != QuantifierTopN {
			return invalid(n, "unknown quantifier %q", v.Quantifier)
		}
		if len(v.Items) == 0 {
			return invalid(n, "numbered node without items")
		}
		for _, it := range v.Items {
			if err := validateConditions(n, it.Conditions); err != nil {
				return err
			}
		}
		return validateWeighting(n, v.Weighting, max(v.SelectCount(), len(v.Else)))
	case *ScalingNode:
		if v.Ticker == "" {
			return invalid(n, "scaling node without ticker")
		}
		if _, err := indicator.Lookback(v.Metric, v.Window); err != nil {
			return invalid(n, "%v", err)
		}
		return validateWeighting(n, v.Weighting, max(len(v.Then), len(v.Else)))
	case *CallNode:
		if _, ok := lib[v.CallID]; !ok {
			return &UnknownCallError{NodeID: v.ID, CallID: v.CallID}
		}
		return nil
	}
	return invalid(n, "unsupported node type %T", n)
}

func validateConditions(n Node, lines []ConditionLine) error {
	for i, c := range lines {
		if c.Ticker == "" {
			return invalid(n, "condition %d has no ticker", i)
		}
		if _, err := indicator.Lookback(c.Metric, c.Window); err != nil {
			return invalid(n, "condition %d: %v", i, err)
		}
		switch c.Comparator {
		case LessThan, GreaterThan, CrossesAbove, CrossesBelow:
		default:
			return invalid(n, "condition %d has unknown comparator %q", i, c.Comparator)
		}
		hasRight := c.RightTicker != "" || c.RightMetric != ""
		if (c.Threshold == nil) == !hasRight {
			return invalid(n, "condition %d needs exactly one of threshold or right-hand indicator", i)
		}
		if hasRight {
			if c.RightTicker == "" || c.RightMetric == "" {
				return invalid(n, "condition %d right-hand side needs ticker and metric", i)
			}
			if _, err := indicator.Lookback(c.RightMetric, c.RightWindow); err != nil {
				return invalid(n, "condition %d right-hand side: %v", i, err)
			}
		}
		if c.ForDays < 0 {
			return invalid(n, "condition %d has negative forDays", i)
		}
		if c.Join != "" && c.Join != JoinAnd && c.Join != JoinOr {
			return invalid(n, "condition %d has unknown join %q", i, c.Join)
		}
	}
	return nil
}

func validateWeighting(n Node, w Weighting, slots int) error {
	switch w.EffectiveMode() {
	case WeightEqual:
		return nil
	case WeightDefined:
		if len(w.Weights) < slots {
			return invalid(n, "defined weighting has %d weights for %d children", len(w.Weights), slots)
		}
		for _, v := range w.Weights {
			if v < 0 {
				return invalid(n, "negative weight %v", v)
			}
		}
		return nil
	case WeightInverseVol, WeightProVol:
		if w.Window < 0 {
			return invalid(n, "negative volatility window")
		}
		if w.VolWindow() < 2 {
			return invalid(n, "volatility window must be at least 2")
		}
		return nil
	case WeightCapped:
		if w.Cap <= 0 || w.Cap > 1 {
			return invalid(n, "cap must be in (0, 1], got %v", w.Cap)
		}
		return nil
	}
	return invalid(n, "unknown weighting mode %q", w.Mode)
}

// CheckCycles follows call references from root and fails on the first
// chain that reaches itself
func CheckCycles(root Node, lib Library) error {
	var visit func(n Node, stack []string) error
	visit = func(start Node, stack []string) error {
		var err error
		Walk(start, func(n Node) bool {
			if err != nil {
				return false
			}
			call, ok := n.(*CallNode)
			if !ok {
				return true
			}
			for _, id := range stack {
				if id == call.CallID {
					err = &CycleError{ChainID: call.CallID, Path: append(append([]string(nil), stack...), call.CallID)}
					return false
				}
			}
			target, ok := lib[call.CallID]
			if !ok {
				err = &UnknownCallError{NodeID: call.ID, CallID: call.CallID}
				return false
			}
			err = visit(target, append(append([]string(nil), stack...), call.CallID))
			return false
		})
		return err
	}
	return visit(root, nil)
}
