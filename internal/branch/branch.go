// Package branch expands a strategy tree and a set of parameter ranges into
// one concrete tree per parameter combination.
package branch

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mExOms/quantree/internal/strategy"
)

// DefaultMaxBranches caps Generate when Options.MaxBranches is unset
const DefaultMaxBranches = 10000

// Range sweeps the numeric field at Path over Min, Min+Step, ... up to Max
type Range struct {
	Path string          `json:"path"`
	Min  decimal.Decimal `json:"min"`
	Max  decimal.Decimal `json:"max"`
	Step decimal.Decimal `json:"step"`
}

// ParamValue is one range's value inside a branch
type ParamValue struct {
	Path  string          `json:"path"`
	Value decimal.Decimal `json:"value"`
}

// Branch is one parameter combination applied to a copy of the base tree.
// IDs follow generation order starting at 0.
type Branch struct {
	ID     int
	Label  string
	Values []ParamValue
	Tree   strategy.Node
}

// TooManyBranchesError rejects a sweep before any tree is copied
type TooManyBranchesError struct {
	Count int
	Limit int
}

func (e *TooManyBranchesError) Error() string {
	return fmt.Sprintf("parameter ranges produce %d branches, limit is %d", e.Count, e.Limit)
}

// Options for Generate
type Options struct {
	MaxBranches int
}

func (o Options) limit() int {
	if o.MaxBranches > 0 {
		return o.MaxBranches
	}
	return DefaultMaxBranches
}

func (r Range) check() error {
	if r.Path == "" {
		return fmt.Errorf("range has no path")
	}
	if !r.Step.IsPositive() {
		return fmt.Errorf("range %s: step must be positive", r.Path)
	}
	if r.Max.LessThan(r.Min) {
		return fmt.Errorf("range %s: max %s is below min %s", r.Path, r.Max, r.Min)
	}
	return nil
}

// Len is the number of values the range produces
func (r Range) Len() int {
	if r.check() != nil {
		return 0
	}
	steps := r.Max.Sub(r.Min).Div(r.Step).Floor()
	if steps.GreaterThanOrEqual(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	n := int(steps.IntPart()) + 1
	// Div rounds; drop a last value that would overshoot
	if r.Min.Add(r.Step.Mul(decimal.NewFromInt(int64(n - 1)))).GreaterThan(r.Max) {
		n--
	}
	return n
}

// Values enumerates the range with exact decimal stepping
func (r Range) Values() ([]decimal.Decimal, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	n := r.Len()
	out := make([]decimal.Decimal, n)
	for k := 0; k < n; k++ {
		out[k] = r.Min.Add(r.Step.Mul(decimal.NewFromInt(int64(k))))
	}
	return out, nil
}

// Count is the number of combinations, saturating at math.MaxInt
func Count(ranges []Range) (int, error) {
	total := 1
	for _, r := range ranges {
		if err := r.check(); err != nil {
			return 0, err
		}
		n := r.Len()
		if total > math.MaxInt/n {
			return math.MaxInt, nil
		}
		total *= n
	}
	return total, nil
}

// Generate returns one branch per combination of ranges applied to a copy
// of base. The last range varies fastest. base is never modified.
func Generate(base strategy.Node, lib strategy.Library, ranges []Range, opts Options) ([]*Branch, error) {
	if err := strategy.Validate(base, lib); err != nil {
		return nil, fmt.Errorf("failed to validate base tree: %w", err)
	}

	for _, r := range ranges {
		if err := checkPath(base, r); err != nil {
			return nil, err
		}
	}
	total, err := Count(ranges)
	if err != nil {
		return nil, err
	}
	if limit := opts.limit(); total > limit {
		return nil, &TooManyBranchesError{Count: total, Limit: limit}
	}

	values := make([][]decimal.Decimal, len(ranges))
	for i, r := range ranges {
		if values[i], err = r.Values(); err != nil {
			return nil, err
		}
	}

	branches := make([]*Branch, 0, total)
	odometer := make([]int, len(ranges))
	for id := 0; id < total; id++ {
		b, err := build(base, ranges, values, odometer, id)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)

		// Advance the odometer
		for i := len(odometer) - 1; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(values[i]) {
				break
			}
			odometer[i] = 0
		}
	}
	return branches, nil
}

func checkPath(base strategy.Node, r Range) error {
	integer, err := strategy.IsIntegerParam(base, r.Path)
	if err != nil {
		return err
	}
	if integer && !(r.Min.IsInteger() && r.Step.IsInteger()) {
		return fmt.Errorf("range %s: integer field needs integral min and step", r.Path)
	}
	return nil
}

func build(base strategy.Node, ranges []Range, values [][]decimal.Decimal, odometer []int, id int) (*Branch, error) {
	tree := strategy.Clone(base)
	b := &Branch{ID: id, Tree: tree, Values: make([]ParamValue, len(ranges))}
	labels := make([]string, len(ranges))
	for i, r := range ranges {
		v := values[i][odometer[i]]
		if err := strategy.SetParam(tree, r.Path, v.InexactFloat64()); err != nil {
			return nil, fmt.Errorf("failed to apply %s=%s: %w", r.Path, v, err)
		}
		b.Values[i] = ParamValue{Path: r.Path, Value: v}
		labels[i] = r.Path + "=" + v.String()
	}
	b.Label = strings.Join(labels, ",")
	return b, nil
}

type wireBranch struct {
	ID     int             `json:"id"`
	Label  string          `json:"label"`
	Values []ParamValue    `json:"values"`
	Tree   json.RawMessage `json:"tree,omitempty"`
}

func (b *Branch) MarshalJSON() ([]byte, error) {
	w := wireBranch{ID: b.ID, Label: b.Label, Values: b.Values}
	if b.Tree != nil {
		tree, err := strategy.MarshalNode(b.Tree)
		if err != nil {
			return nil, err
		}
		w.Tree = tree
	}
	return json.Marshal(w)
}

func (b *Branch) UnmarshalJSON(data []byte) error {
	var w wireBranch
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Branch{ID: w.ID, Label: w.Label, Values: w.Values}
	if len(w.Tree) > 0 {
		tree, err := strategy.UnmarshalNode(w.Tree)
		if err != nil {
			return fmt.Errorf("branch %d: %w", w.ID, err)
		}
		b.Tree = tree
	}
	return nil
}
