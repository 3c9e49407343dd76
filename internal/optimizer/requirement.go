package optimizer

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/mExOms/quantree/pkg/types"
)

// DefaultTopK bounds each ranking when Job.TopK is unset
const DefaultTopK = 10

// Op compares a metric against a requirement value
type Op string

const (
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
)

// Window picks which sample a requirement is checked against
type Window string

const (
	WindowInSample    Window = "is"
	WindowOutOfSample Window = "oos"
)

// Requirement is one eligibility rule, e.g. sharpe >= 1 in-sample
type Requirement struct {
	Metric types.MetricName `json:"metric"`
	Op     Op               `json:"op"`
	Value  float64          `json:"value"`
	Window Window           `json:"window,omitempty"`
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s %s %s %v", r.window(), r.Metric, r.Op, r.Value)
}

func (r Requirement) window() Window {
	if r.Window == "" {
		return WindowInSample
	}
	return r.Window
}

// Validate checks the metric, operator and window
func (r Requirement) Validate() error {
	if _, err := types.EmptyMetrics().Value(r.Metric); err != nil {
		return err
	}
	switch r.Op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
	default:
		return fmt.Errorf("unknown comparison %q", r.Op)
	}
	if w := r.window(); w != WindowInSample && w != WindowOutOfSample {
		return fmt.Errorf("unknown window %q", r.Window)
	}
	return nil
}

// Check reports whether the metrics satisfy r. An undefined value fails.
func (r Requirement) Check(inSample, outOfSample types.Metrics) bool {
	m := inSample
	if r.window() == WindowOutOfSample {
		m = outOfSample
	}
	v, err := m.Value(r.Metric)
	if err != nil || !v.Defined() {
		return false
	}
	x := v.Float()
	switch r.Op {
	case OpGreater:
		return x > r.Value
	case OpGreaterEqual:
		return x >= r.Value
	case OpLess:
		return x < r.Value
	case OpLessEqual:
		return x <= r.Value
	}
	return false
}

// applyRequirements sets Pass and Failures on an evaluated result
func applyRequirements(res *Result, reqs []Requirement) {
	res.Failures = nil
	for _, r := range reqs {
		if !r.Check(res.InSample, res.OutOfSample) {
			res.Failures = append(res.Failures, r.String())
		}
	}
	res.Pass = res.Error == "" && len(res.Failures) == 0
}

// Rank orders passing results by in-sample value of each metric. Ties and
// undefined values keep branch order; undefined values sort last.
func Rank(results []*Result, metrics []types.MetricName, topK int) []Ranking {
	if topK <= 0 {
		topK = DefaultTopK
	}
	passing := lo.Filter(results, func(r *Result, _ int) bool { return r != nil && r.Pass })

	rankings := make([]Ranking, 0, len(metrics))
	for _, metric := range metrics {
		ordered := append([]*Result(nil), passing...)
		value := func(r *Result) types.Number {
			v, _ := r.InSample.Value(metric)
			return v
		}
		sort.SliceStable(ordered, func(i, j int) bool {
			return types.Better(value(ordered[i]), value(ordered[j]), metric.LowerIsBetter())
		})
		if len(ordered) > topK {
			ordered = ordered[:topK]
		}
		rankings = append(rankings, Ranking{
			Metric:    metric,
			BranchIDs: lo.Map(ordered, func(r *Result, _ int) int { return r.BranchID }),
		})
	}
	return rankings
}
