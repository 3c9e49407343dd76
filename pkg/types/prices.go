package types

import (
	"sort"
	"time"
)

// Series holds one ticker's prices on the table's shared date index.
// High, Low and Volume are nil when the source does not carry them.
// Missing values are NaN.
type Series struct {
	Ticker string    `json:"ticker"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high,omitempty"`
	Low    []float64 `json:"low,omitempty"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume,omitempty"`
}

// PriceTable is an aligned set of series sharing one date axis
type PriceTable struct {
	Dates  []time.Time        `json:"dates"`
	Series map[string]*Series `json:"series"`
}

// Len returns the number of aligned dates
func (t *PriceTable) Len() int {
	return len(t.Dates)
}

// Get returns the series for ticker
func (t *PriceTable) Get(ticker string) (*Series, bool) {
	s, ok := t.Series[ticker]
	return s, ok
}

// Tickers returns the table's tickers sorted
func (t *PriceTable) Tickers() []string {
	out := make([]string, 0, len(t.Series))
	for k := range t.Series {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SearchDate returns the index of the first date >= d, or Len() if none
func (t *PriceTable) SearchDate(d time.Time) int {
	return sort.Search(len(t.Dates), func(i int) bool {
		return !t.Dates[i].Before(d)
	})
}
