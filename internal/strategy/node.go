// Package strategy defines the strategy decision tree.
//
// Node is a closed sum type: the only implementations are the pointer types
// declared here, and every consumer switches over them exhaustively.
package strategy

// Kind tags a node variant
type Kind string

const (
	KindBasic     Kind = "basic"
	KindFunction  Kind = "function"
	KindIndicator Kind = "indicator"
	KindPosition  Kind = "position"
	KindNumbered  Kind = "numbered"
	KindScaling   Kind = "scaling"
	KindCall      Kind = "call"
)

// CashTicker inside a position node stands for an uninvested share
const CashTicker = "Empty"

// Node is one strategy tree node
type Node interface {
	NodeID() string
	NodeName() string
	Kind() Kind
	node()
}

// Header carries fields shared by every node
type Header struct {
	ID   string
	Name string
}

func (h *Header) NodeID() string   { return h.ID }
func (h *Header) NodeName() string { return h.Name }

// Weighting modes
type WeightMode string

const (
	WeightEqual      WeightMode = "equal"
	WeightDefined    WeightMode = "defined"
	WeightInverseVol WeightMode = "inverse-vol"
	WeightProVol     WeightMode = "pro-vol"
	WeightCapped     WeightMode = "capped"
)

// DefaultVolWindow is used by volatility weighting when Window is unset
const DefaultVolWindow = 20

// Weighting decides how a slot's child allocations are combined.
// Weights are percentages for defined mode; Cap is a fraction for capped mode.
type Weighting struct {
	Mode     WeightMode `json:"mode,omitempty"`
	Weights  []float64  `json:"weights,omitempty"`
	Window   int        `json:"window,omitempty"`
	Cap      float64    `json:"cap,omitempty"`
	Fallback string     `json:"fallback,omitempty"`
}

// EffectiveMode defaults an unset mode to equal
func (w Weighting) EffectiveMode() WeightMode {
	if w.Mode == "" {
		return WeightEqual
	}
	return w.Mode
}

// VolWindow returns the volatility lookback for vol modes
func (w Weighting) VolWindow() int {
	if w.Window > 0 {
		return w.Window
	}
	return DefaultVolWindow
}

// Comparator for a condition line
type Comparator string

const (
	LessThan     Comparator = "lessThan"
	GreaterThan  Comparator = "greaterThan"
	CrossesAbove Comparator = "crossesAbove"
	CrossesBelow Comparator = "crossesBelow"
)

// Crossing reports comparators that need the prior day
func (c Comparator) Crossing() bool {
	return c == CrossesAbove || c == CrossesBelow
}

// Join combines a condition with everything before it
type Join string

const (
	JoinAnd Join = "and"
	JoinOr  Join = "or"
)

// ConditionLine compares a ticker's indicator with a threshold or with
// another ticker's indicator. ForDays > 1 requires the comparison to hold on
// that many consecutive trading days.
type ConditionLine struct {
	Ticker      string     `json:"ticker"`
	Metric      string     `json:"metric"`
	Window      int        `json:"window,omitempty"`
	Comparator  Comparator `json:"comparator"`
	Threshold   *float64   `json:"threshold,omitempty"`
	RightTicker string     `json:"rightTicker,omitempty"`
	RightMetric string     `json:"rightMetric,omitempty"`
	RightWindow int        `json:"rightWindow,omitempty"`
	ForDays     int        `json:"forDays,omitempty"`
	Join        Join       `json:"join,omitempty"`
}

// Days returns ForDays with a minimum of one
func (c ConditionLine) Days() int {
	if c.ForDays < 1 {
		return 1
	}
	return c.ForDays
}

// Select side for function nodes
type Select string

const (
	SelectTop    Select = "top"
	SelectBottom Select = "bottom"
)

// Quantifier for numbered nodes
type Quantifier string

const (
	QuantifierAny  Quantifier = "any"
	QuantifierTopN Quantifier = "top-n"
)

// BasicNode merges all Next children under Weighting
type BasicNode struct {
	Header
	Weighting Weighting
	Next      []Node
}

// FunctionNode ranks its Next children by Metric over Window and keeps the
// top or bottom Count
type FunctionNode struct {
	Header
	Metric    string
	Window    int
	Select    Select
	Count     int
	Weighting Weighting
	Next      []Node
}

// IndicatorNode branches on its conditions
type IndicatorNode struct {
	Header
	Conditions []ConditionLine
	Weighting  Weighting
	Then       []Node
	Else       []Node
}

// PositionNode is a leaf holding Tickers in equal shares
type PositionNode struct {
	Header
	Tickers []string
}

// NumberedItem is one candidate of a numbered node. No conditions means
// always true.
type NumberedItem struct {
	Name       string
	Conditions []ConditionLine
	Next       []Node
}

// NumberedNode selects among items whose conditions hold
type NumberedNode struct {
	Header
	Quantifier Quantifier
	Count      int
	Items      []NumberedItem
	Weighting  Weighting
	Else       []Node
}

// SelectCount returns Count with a minimum of one
func (n *NumberedNode) SelectCount() int {
	if n.Count < 1 {
		return 1
	}
	return n.Count
}

// ScalingNode maps Metric(Ticker, Window) linearly from [From, To] onto the
// fraction given to Then; the rest goes to Else or cash
type ScalingNode struct {
	Header
	Ticker    string
	Metric    string
	Window    int
	From      float64
	To        float64
	Weighting Weighting
	Then      []Node
	Else      []Node
}

// CallNode references a reusable subtree in a Library by id
type CallNode struct {
	Header
	CallID string
}

func (*BasicNode) Kind() Kind     { return KindBasic }
func (*FunctionNode) Kind() Kind  { return KindFunction }
func (*IndicatorNode) Kind() Kind { return KindIndicator }
func (*PositionNode) Kind() Kind  { return KindPosition }
func (*NumberedNode) Kind() Kind  { return KindNumbered }
func (*ScalingNode) Kind() Kind   { return KindScaling }
func (*CallNode) Kind() Kind      { return KindCall }

func (*BasicNode) node()     {}
func (*FunctionNode) node()  {}
func (*IndicatorNode) node() {}
func (*PositionNode) node()  {}
func (*NumberedNode) node()  {}
func (*ScalingNode) node()   {}
func (*CallNode) node()      {}

// FunctionCount returns Count with a minimum of one
func (f *FunctionNode) FunctionCount() int {
	if f.Count < 1 {
		return 1
	}
	return f.Count
}

// Library maps call-chain ids to their subtrees
type Library map[string]Node
