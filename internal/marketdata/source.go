package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrTickerNotFound is returned by sources that have no data for a ticker
var ErrTickerNotFound = errors.New("ticker not found")

// History is one ticker's raw daily bars as stored upstream. High, Low and
// Volume may be nil.
type History struct {
	Ticker string      `json:"ticker"`
	Dates  []time.Time `json:"dates"`
	Open   []float64   `json:"open"`
	High   []float64   `json:"high,omitempty"`
	Low    []float64   `json:"low,omitempty"`
	Close  []float64   `json:"close"`
	Volume []float64   `json:"volume,omitempty"`
}

// Validate checks that every present column matches the date axis and that
// dates strictly increase
func (h *History) Validate() error {
	n := len(h.Dates)
	if len(h.Close) != n || len(h.Open) != n {
		return fmt.Errorf("%s: open/close length does not match %d dates", h.Ticker, n)
	}
	for name, col := range map[string][]float64{"high": h.High, "low": h.Low, "volume": h.Volume} {
		if col != nil && len(col) != n {
			return fmt.Errorf("%s: %s length %d does not match %d dates", h.Ticker, name, len(col), n)
		}
	}
	for i := 1; i < n; i++ {
		if !h.Dates[i].After(h.Dates[i-1]) {
			return fmt.Errorf("%s: dates not strictly increasing at %s", h.Ticker, h.Dates[i].Format("2006-01-02"))
		}
	}
	return nil
}

// Source loads raw histories by ticker
type Source interface {
	Load(ticker string) (*History, error)
}

// MemorySource serves histories held in memory
type MemorySource struct {
	mu        sync.RWMutex
	histories map[string]*History
}

// NewMemorySource creates a source preloaded with histories
func NewMemorySource(histories ...*History) *MemorySource {
	s := &MemorySource{histories: make(map[string]*History)}
	for _, h := range histories {
		s.Add(h)
	}
	return s
}

// Add stores or replaces a history
func (s *MemorySource) Add(h *History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[h.Ticker] = h
}

// Load implements Source
func (s *MemorySource) Load(ticker string) (*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
	}
	return h, nil
}

// Tickers lists stored tickers
func (s *MemorySource) Tickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.histories))
	for k := range s.histories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
