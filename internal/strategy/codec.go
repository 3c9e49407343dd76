package strategy

import (
	"encoding/json"
	"fmt"
)

// wireNode is the JSON shape of every node kind, discriminated by Kind
type wireNode struct {
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Weighting  *Weighting      `json:"weighting,omitempty"`
	Metric     string          `json:"metric,omitempty"`
	Window     int             `json:"window,omitempty"`
	Select     Select          `json:"select,omitempty"`
	Count      int             `json:"count,omitempty"`
	Conditions []ConditionLine `json:"conditions,omitempty"`
	Tickers    []string        `json:"tickers,omitempty"`
	Quantifier Quantifier      `json:"quantifier,omitempty"`
	Items      []wireItem      `json:"items,omitempty"`
	Ticker     string          `json:"ticker,omitempty"`
	From       *float64        `json:"from,omitempty"`
	To         *float64        `json:"to,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	Next       []*wireNode     `json:"next,omitempty"`
	Then       []*wireNode     `json:"then,omitempty"`
	Else       []*wireNode     `json:"else,omitempty"`
}

type wireItem struct {
	Name       string          `json:"name,omitempty"`
	Conditions []ConditionLine `json:"conditions,omitempty"`
	Next       []*wireNode     `json:"next,omitempty"`
}

// Document bundles a root tree with the call chains it references
type Document struct {
	Root    Node
	Library Library
}

type wireDocument struct {
	Root    *wireNode            `json:"root"`
	Library map[string]*wireNode `json:"library,omitempty"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Root == nil {
		return nil, fmt.Errorf("document has no root")
	}
	w := wireDocument{Root: toWire(d.Root)}
	if len(d.Library) > 0 {
		w.Library = make(map[string]*wireNode, len(d.Library))
		for id, n := range d.Library {
			w.Library[id] = toWire(n)
		}
	}
	return json.Marshal(w)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Root == nil {
		return fmt.Errorf("document has no root")
	}
	root, err := fromWire(w.Root)
	if err != nil {
		return err
	}
	lib := make(Library, len(w.Library))
	for id, wn := range w.Library {
		n, err := fromWire(wn)
		if err != nil {
			return fmt.Errorf("library entry %s: %w", id, err)
		}
		lib[id] = n
	}
	d.Root, d.Library = root, lib
	return nil
}

// MarshalNode encodes a single tree
func MarshalNode(n Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("nil node")
	}
	return json.Marshal(toWire(n))
}

// UnmarshalNode decodes a single tree
func UnmarshalNode(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromWire(&w)
}

func weightingPtr(w Weighting) *Weighting {
	if w.Mode == "" && len(w.Weights) == 0 && w.Window == 0 && w.Cap == 0 && w.Fallback == "" {
		return nil
	}
	c := w
	return &c
}

func floatPtr(v float64) *float64 { return &v }

func toWireList(nodes []Node) []*wireNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]*wireNode, len(nodes))
	for i, n := range nodes {
		out[i] = toWire(n)
	}
	return out
}

func toWire(n Node) *wireNode {
	w := &wireNode{Kind: n.Kind(), ID: n.NodeID(), Name: n.NodeName()}
	switch v := n.(type) {
	case *BasicNode:
		w.Weighting = weightingPtr(v.Weighting)
		w.Next = toWireList(v.Next)
	case *FunctionNode:
		w.Metric, w.Window, w.Select, w.Count = v.Metric, v.Window, v.Select, v.Count
		w.Weighting = weightingPtr(v.Weighting)
		w.Next = toWireList(v.Next)
	case *IndicatorNode:
		w.Conditions = v.Conditions
		w.Weighting = weightingPtr(v.Weighting)
		w.Then = toWireList(v.Then)
		w.Else = toWireList(v.Else)
	case *PositionNode:
		w.Tickers = v.Tickers
	case *NumberedNode:
		w.Quantifier, w.Count = v.Quantifier, v.Count
		w.Weighting = weightingPtr(v.Weighting)
		for _, it := range v.Items {
			w.Items = append(w.Items, wireItem{Name: it.Name, Conditions: it.Conditions, Next: toWireList(it.Next)})
		}
		w.Else = toWireList(v.Else)
	case *ScalingNode:
		w.Ticker, w.Metric, w.Window = v.Ticker, v.Metric, v.Window
		w.From, w.To = floatPtr(v.From), floatPtr(v.To)
		w.Weighting = weightingPtr(v.Weighting)
		w.Then = toWireList(v.Then)
		w.Else = toWireList(v.Else)
	case *CallNode:
		w.CallID = v.CallID
	}
	return w
}

func fromWireList(ws []*wireNode) ([]Node, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]Node, len(ws))
	for i, w := range ws {
		n, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func fromWire(w *wireNode) (Node, error) {
	if w == nil {
		return nil, fmt.Errorf("null node")
	}
	header := Header{ID: w.ID, Name: w.Name}
	weighting := Weighting{}
	if w.Weighting != nil {
		weighting = *w.Weighting
	}

	next, err := fromWireList(w.Next)
	if err != nil {
		return nil, err
	}
	then, err := fromWireList(w.Then)
	if err != nil {
		return nil, err
	}
	els, err := fromWireList(w.Else)
	if err != nil {
		return nil, err
	}

	switch w.Kind {
	case KindBasic:
		return &BasicNode{Header: header, Weighting: weighting, Next: next}, nil
	case KindFunction:
		return &FunctionNode{Header: header, Metric: w.Metric, Window: w.Window, Select: w.Select,
			Count: w.Count, Weighting: weighting, Next: next}, nil
	case KindIndicator:
		return &IndicatorNode{Header: header, Conditions: w.Conditions, Weighting: weighting, Then: then, Else: els}, nil
	case KindPosition:
		return &PositionNode{Header: header, Tickers: w.Tickers}, nil
	case KindNumbered:
		n := &NumberedNode{Header: header, Quantifier: w.Quantifier, Count: w.Count, Weighting: weighting, Else: els}
		for _, it := range w.Items {
			children, err := fromWireList(it.Next)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, NumberedItem{Name: it.Name, Conditions: it.Conditions, Next: children})
		}
		return n, nil
	case KindScaling:
		if w.From == nil || w.To == nil {
			return nil, fmt.Errorf("scaling node %s requires from and to", w.ID)
		}
		return &ScalingNode{Header: header, Ticker: w.Ticker, Metric: w.Metric, Window: w.Window,
			From: *w.From, To: *w.To, Weighting: weighting, Then: then, Else: els}, nil
	case KindCall:
		return &CallNode{Header: header, CallID: w.CallID}, nil
	}
	return nil, fmt.Errorf("node %s has unknown kind %q", w.ID, w.Kind)
}
