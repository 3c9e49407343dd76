package types

import (
	"bytes"
	"encoding/json"
	"math"
)

// Number is a metric value. NaN and ±Inf mean "undefined": they marshal
// to JSON null and sort after every defined value.
type Number float64

// Undefined returns the undefined Number
func Undefined() Number {
	return Number(math.NaN())
}

// Num converts v, collapsing non-finite values to Undefined
func Num(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined()
	}
	return Number(v)
}

// Defined reports whether n is finite
func (n Number) Defined() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float returns n as float64 (NaN when undefined)
func (n Number) Float() float64 {
	if !n.Defined() {
		return math.NaN()
	}
	return float64(n)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(n))
}

func (n *Number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Undefined()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Num(f)
	return nil
}

// Better orders a before b for ranking. Undefined values always lose.
func Better(a, b Number, lowerIsBetter bool) bool {
	switch {
	case !a.Defined():
		return false
	case !b.Defined():
		return true
	case lowerIsBetter:
		return a < b
	default:
		return a > b
	}
}
