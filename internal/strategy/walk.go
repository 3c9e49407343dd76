package strategy

import (
	"sort"

	"github.com/samber/lo"
)

// Children returns every direct child of n in slot order
func Children(n Node) []Node {
	switch v := n.(type) {
	case *BasicNode:
		return v.Next
	case *FunctionNode:
		return v.Next
	case *IndicatorNode:
		return append(append([]Node(nil), v.Then...), v.Else...)
	case *NumberedNode:
		var out []Node
		for _, it := range v.Items {
			out = append(out, it.Next...)
		}
		return append(out, v.Else...)
	case *ScalingNode:
		return append(append([]Node(nil), v.Then...), v.Else...)
	case *PositionNode, *CallNode:
		return nil
	}
	return nil
}

// Walk visits n and its descendants depth-first. Call nodes are visited but
// not followed. Returning false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Find returns the node with id inside root
func Find(root Node, id string) (Node, bool) {
	var found Node
	Walk(root, func(n Node) bool {
		if found != nil {
			return false
		}
		if n.NodeID() == id {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// Conditions returns every condition line held directly by n
func Conditions(n Node) []ConditionLine {
	switch v := n.(type) {
	case *IndicatorNode:
		return v.Conditions
	case *NumberedNode:
		var out []ConditionLine
		for _, it := range v.Items {
			out = append(out, it.Conditions...)
		}
		return out
	}
	return nil
}

// Tickers returns the sorted distinct tickers referenced by root and every
// call chain it reaches. The cash sentinel is excluded.
func Tickers(root Node, lib Library) []string {
	var out []string
	visited := make(map[string]bool)
	var visit func(Node)
	visit = func(start Node) {
		Walk(start, func(n Node) bool {
			for _, c := range Conditions(n) {
				out = append(out, c.Ticker)
				if c.RightTicker != "" {
					out = append(out, c.RightTicker)
				}
			}
			switch v := n.(type) {
			case *PositionNode:
				out = append(out, v.Tickers...)
			case *ScalingNode:
				out = append(out, v.Ticker)
			case *CallNode:
				if target, ok := lib[v.CallID]; ok && !visited[v.CallID] {
					visited[v.CallID] = true
					visit(target)
				}
			}
			if w, ok := WeightingOf(n); ok && w.Fallback != "" {
				out = append(out, w.Fallback)
			}
			return true
		})
	}
	visit(root)

	out = lo.Filter(lo.Uniq(out), func(t string, _ int) bool {
		return t != "" && t != CashTicker
	})
	sort.Strings(out)
	return out
}

// WeightingOf returns the weighting of nodes that own one
func WeightingOf(n Node) (Weighting, bool) {
	switch v := n.(type) {
	case *BasicNode:
		return v.Weighting, true
	case *FunctionNode:
		return v.Weighting, true
	case *IndicatorNode:
		return v.Weighting, true
	case *NumberedNode:
		return v.Weighting, true
	case *ScalingNode:
		return v.Weighting, true
	}
	return Weighting{}, false
}

// Clone deep-copies a tree. Call references are copied by id.
func Clone(n Node) Node {
	if n == nil {
		return nil
	}
	switch v := n.(type) {
	case *BasicNode:
		return &BasicNode{Header: v.Header, Weighting: cloneWeighting(v.Weighting), Next: cloneList(v.Next)}
	case *FunctionNode:
		c := *v
		c.Weighting = cloneWeighting(v.Weighting)
		c.Next = cloneList(v.Next)
		return &c
	case *IndicatorNode:
		return &IndicatorNode{Header: v.Header, Conditions: cloneConditions(v.Conditions),
			Weighting: cloneWeighting(v.Weighting), Then: cloneList(v.Then), Else: cloneList(v.Else)}
	case *PositionNode:
		return &PositionNode{Header: v.Header, Tickers: append([]string(nil), v.Tickers...)}
	case *NumberedNode:
		c := *v
		c.Weighting = cloneWeighting(v.Weighting)
		c.Items = make([]NumberedItem, len(v.Items))
		for i, it := range v.Items {
			c.Items[i] = NumberedItem{Name: it.Name, Conditions: cloneConditions(it.Conditions), Next: cloneList(it.Next)}
		}
		c.Else = cloneList(v.Else)
		return &c
	case *ScalingNode:
		c := *v
		c.Weighting = cloneWeighting(v.Weighting)
		c.Then = cloneList(v.Then)
		c.Else = cloneList(v.Else)
		return &c
	case *CallNode:
		c := *v
		return &c
	}
	return nil
}

func cloneList(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = Clone(n)
	}
	return out
}

func cloneWeighting(w Weighting) Weighting {
	w.Weights = append([]float64(nil), w.Weights...)
	return w
}

func cloneConditions(cs []ConditionLine) []ConditionLine {
	if cs == nil {
		return nil
	}
	out := make([]ConditionLine, len(cs))
	for i, c := range cs {
		out[i] = c
		if c.Threshold != nil {
			out[i].Threshold = floatPtr(*c.Threshold)
		}
	}
	return out
}

// Prefix clones n and prepends prefix to every node id, so several copies
// of one tree can live under a common root
func Prefix(n Node, prefix string) Node {
	c := Clone(n)
	Walk(c, func(node Node) bool {
		switch v := node.(type) {
		case *BasicNode:
			v.ID = prefix + v.ID
		case *FunctionNode:
			v.ID = prefix + v.ID
		case *IndicatorNode:
			v.ID = prefix + v.ID
		case *PositionNode:
			v.ID = prefix + v.ID
		case *NumberedNode:
			v.ID = prefix + v.ID
		case *ScalingNode:
			v.ID = prefix + v.ID
		case *CallNode:
			v.ID = prefix + v.ID
		}
		return true
	})
	return c
}
