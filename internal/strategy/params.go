package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parameter paths address one numeric field as "<nodeID>.<field>", e.g.
//
//	rsi-gate.conditions[0].threshold
//	picker.window
//	root.weighting.weights[2]
//	menu.items[1].conditions[0].window

type segment struct {
	name  string
	index int
	has   bool
}

func parseSegments(s string) ([]segment, error) {
	var out []segment
	for _, part := range strings.Split(s, ".") {
		seg := segment{name: part}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("malformed segment %q", part)
			}
			idx, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("malformed index in %q", part)
			}
			seg = segment{name: part[:open], index: idx, has: true}
		}
		if seg.name == "" {
			return nil, fmt.Errorf("empty segment in %q", s)
		}
		out = append(out, seg)
	}
	return out, nil
}

// target is a resolved numeric field; exactly one pointer is set
type target struct {
	f *float64
	i *int
}

func (t target) get() float64 {
	if t.f != nil {
		return *t.f
	}
	return float64(*t.i)
}

func (t target) set(v float64) error {
	if t.f != nil {
		*t.f = v
		return nil
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("value %v must be an integer", v)
	}
	*t.i = int(v)
	return nil
}

func leaf(segs []segment) (segment, error) {
	if len(segs) != 1 {
		return segment{}, fmt.Errorf("unexpected nested field")
	}
	return segs[0], nil
}

func resolveWeighting(w *Weighting, segs []segment) (target, error) {
	seg, err := leaf(segs)
	if err != nil {
		return target{}, err
	}
	switch {
	case seg.name == "window" && !seg.has:
		return target{i: &w.Window}, nil
	case seg.name == "cap" && !seg.has:
		return target{f: &w.Cap}, nil
	case seg.name == "weights" && seg.has:
		if seg.index >= len(w.Weights) {
			return target{}, fmt.Errorf("weight index %d out of range", seg.index)
		}
		return target{f: &w.Weights[seg.index]}, nil
	}
	return target{}, fmt.Errorf("unknown weighting field %q", seg.name)
}

func resolveCondition(lines []ConditionLine, segs []segment) (target, error) {
	head := segs[0]
	if !head.has || head.index >= len(lines) {
		return target{}, fmt.Errorf("condition index out of range")
	}
	c := &lines[head.index]
	seg, err := leaf(segs[1:])
	if err != nil {
		return target{}, err
	}
	switch seg.name {
	case "window":
		return target{i: &c.Window}, nil
	case "rightWindow":
		return target{i: &c.RightWindow}, nil
	case "forDays":
		return target{i: &c.ForDays}, nil
	case "threshold":
		if c.Threshold == nil {
			return target{}, fmt.Errorf("condition compares against an indicator, not a threshold")
		}
		return target{f: c.Threshold}, nil
	}
	return target{}, fmt.Errorf("unknown condition field %q", seg.name)
}

func resolve(n Node, segs []segment) (target, error) {
	head := segs[0]
	rest := segs[1:]

	if head.name == "weights" && head.has {
		// shorthand for weighting.weights[i]
		if w := weightingPtrOf(n); w != nil {
			return resolveWeighting(w, segs)
		}
	}
	if head.name == "weighting" && !head.has {
		if w := weightingPtrOf(n); w != nil && len(rest) > 0 {
			return resolveWeighting(w, rest)
		}
		return target{}, fmt.Errorf("%s node has no weighting", n.Kind())
	}

	switch v := n.(type) {
	case *FunctionNode:
		if len(rest) == 0 && !head.has {
			switch head.name {
			case "window":
				return target{i: &v.Window}, nil
			case "count":
				return target{i: &v.Count}, nil
			}
		}
	case *IndicatorNode:
		if head.name == "conditions" && len(rest) > 0 {
			return resolveCondition(v.Conditions, segs)
		}
	case *NumberedNode:
		if head.name == "count" && len(rest) == 0 && !head.has {
			return target{i: &v.Count}, nil
		}
		if head.name == "items" && head.has && len(rest) > 1 && rest[0].name == "conditions" {
			if head.index >= len(v.Items) {
				return target{}, fmt.Errorf("item index %d out of range", head.index)
			}
			return resolveCondition(v.Items[head.index].Conditions, rest)
		}
	case *ScalingNode:
		if len(rest) == 0 && !head.has {
			switch head.name {
			case "window":
				return target{i: &v.Window}, nil
			case "from":
				return target{f: &v.From}, nil
			case "to":
				return target{f: &v.To}, nil
			}
		}
	}
	return target{}, fmt.Errorf("%s node has no parameter %q", n.Kind(), head.name)
}

func weightingPtrOf(n Node) *Weighting {
	switch v := n.(type) {
	case *BasicNode:
		return &v.Weighting
	case *FunctionNode:
		return &v.Weighting
	case *IndicatorNode:
		return &v.Weighting
	case *NumberedNode:
		return &v.Weighting
	case *ScalingNode:
		return &v.Weighting
	}
	return nil
}

func lookupParam(root Node, path string) (target, error) {
	id, field, ok := strings.Cut(path, ".")
	if !ok || id == "" || field == "" {
		return target{}, fmt.Errorf("parameter path %q must look like <nodeID>.<field>", path)
	}
	n, found := Find(root, id)
	if !found {
		return target{}, fmt.Errorf("parameter path %q: no node %q", path, id)
	}
	segs, err := parseSegments(field)
	if err != nil {
		return target{}, fmt.Errorf("parameter path %q: %w", path, err)
	}
	t, err := resolve(n, segs)
	if err != nil {
		return target{}, fmt.Errorf("parameter path %q: %w", path, err)
	}
	return t, nil
}

// GetParam reads the numeric field at path
func GetParam(root Node, path string) (float64, error) {
	t, err := lookupParam(root, path)
	if err != nil {
		return 0, err
	}
	return t.get(), nil
}

// SetParam writes value to the field at path in place. Integer fields
// reject fractional values.
func SetParam(root Node, path string, value float64) error {
	t, err := lookupParam(root, path)
	if err != nil {
		return err
	}
	if err := t.set(value); err != nil {
		return fmt.Errorf("parameter path %q: %w", path, err)
	}
	return nil
}

// IsIntegerParam reports whether path addresses an integer field
func IsIntegerParam(root Node, path string) (bool, error) {
	t, err := lookupParam(root, path)
	if err != nil {
		return false, err
	}
	return t.i != nil, nil
}
