package indicator

import (
	"fmt"
	"sync"

	"github.com/mExOms/quantree/pkg/types"
)

const returnsMetric = "__returns"

type cacheKey struct {
	ticker string
	metric string
	window int
}

// Cache memoizes indicator outputs for one price table by
// (ticker, metric, window). It is safe for concurrent use; values are
// shared and must not be modified by callers.
type Cache struct {
	table *types.PriceTable
	items sync.Map
}

// NewCache binds a cache to table
func NewCache(table *types.PriceTable) *Cache {
	return &Cache{table: table}
}

// Table returns the table this cache reads
func (c *Cache) Table() *types.PriceTable {
	return c.table
}

// Series returns metric(window) for ticker over the whole table
func (c *Cache) Series(ticker, metric string, window int) ([]float64, error) {
	metric = Canonical(metric)
	key := cacheKey{ticker: ticker, metric: metric, window: window}
	if v, ok := c.items.Load(key); ok {
		return v.([]float64), nil
	}

	s, ok := c.table.Get(ticker)
	if !ok {
		return nil, fmt.Errorf("ticker %s is not in the price table", ticker)
	}
	values, err := Compute(s, metric, window)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s(%d) for %s: %w", metric, window, ticker, err)
	}
	actual, _ := c.items.LoadOrStore(key, values)
	return actual.([]float64), nil
}

// Returns gives daily close-to-close returns for ticker
func (c *Cache) Returns(ticker string) ([]float64, error) {
	key := cacheKey{ticker: ticker, metric: returnsMetric}
	if v, ok := c.items.Load(key); ok {
		return v.([]float64), nil
	}
	s, ok := c.table.Get(ticker)
	if !ok {
		return nil, fmt.Errorf("ticker %s is not in the price table", ticker)
	}
	actual, _ := c.items.LoadOrStore(key, Returns(s.Close))
	return actual.([]float64), nil
}
