package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for trading dates
const DateLayout = "2006-01-02"

// Fill timing modes
type FillMode string

const (
	FillCloseToClose FillMode = "CC"
	FillOpenToOpen   FillMode = "OO"
	FillCloseToOpen  FillMode = "CO"
	FillOpenToClose  FillMode = "OC"
)

// Valid reports whether m is a known fill mode
func (m FillMode) Valid() bool {
	switch m {
	case FillCloseToClose, FillOpenToOpen, FillCloseToOpen, FillOpenToClose:
		return true
	}
	return false
}

// ParseFillMode accepts CC/OO/CO/OC in any case; empty defaults to CC
func ParseFillMode(s string) (FillMode, error) {
	if s == "" {
		return FillCloseToClose, nil
	}
	m := FillMode(strings.ToUpper(s))
	if !m.Valid() {
		return "", fmt.Errorf("unknown fill mode %q", s)
	}
	return m, nil
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return d, nil
}

// Day truncates t to UTC midnight
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AllocationDay is the portfolio decided at the close of Date.
// Weights sum to at most 1; the remainder is cash.
type AllocationDay struct {
	Date    time.Time          `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

// Total returns the invested fraction
func (a AllocationDay) Total() float64 {
	total := 0.0
	for _, w := range a.Weights {
		total += w
	}
	return total
}

// Holdings counts tickers with a positive weight
func (a AllocationDay) Holdings() int {
	n := 0
	for _, w := range a.Weights {
		if w > 0 {
			n++
		}
	}
	return n
}
