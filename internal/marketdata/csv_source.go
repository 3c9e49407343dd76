package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mExOms/quantree/pkg/types"
	"github.com/sirupsen/logrus"
)

// CSVSource reads <dir>/<TICKER>.csv files with a header row naming at least
// date and close. open, high, low and volume columns are optional.
type CSVSource struct {
	dir    string
	logger *logrus.Entry
}

// NewCSVSource creates a source over dir
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{
		dir:    dir,
		logger: logrus.WithField("component", "csv-source"),
	}
}

// Load implements Source
func (s *CSVSource) Load(ticker string) (*History, error) {
	path := filepath.Join(s.dir, ticker+".csv")
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	h, err := ReadCSV(ticker, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	s.logger.Debugf("Loaded %d bars for %s", len(h.Dates), ticker)
	return h, nil
}

// ReadCSV parses one ticker's bars. Rows must be in ascending date order;
// blank numeric cells become NaN.
func ReadCSV(ticker string, r io.Reader) (*History, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		cols[key] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, errors.New("missing date column")
	}
	closeCol, ok := cols["close"]
	if !ok {
		return nil, errors.New("missing close column")
	}

	h := &History{Ticker: ticker}
	optional := func(name string) (int, bool) {
		i, ok := cols[name]
		return i, ok
	}
	openCol, hasOpen := optional("open")
	highCol, hasHigh := optional("high")
	lowCol, hasLow := optional("low")
	volCol, hasVolume := optional("volume")

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		date, err := types.ParseDate(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		closePrice := parseCell(record, closeCol)
		h.Dates = append(h.Dates, date)
		h.Close = append(h.Close, closePrice)
		if hasOpen {
			h.Open = append(h.Open, parseCell(record, openCol))
		} else {
			h.Open = append(h.Open, closePrice)
		}
		if hasHigh {
			h.High = append(h.High, parseCell(record, highCol))
		}
		if hasLow {
			h.Low = append(h.Low, parseCell(record, lowCol))
		}
		if hasVolume {
			h.Volume = append(h.Volume, parseCell(record, volCol))
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func parseCell(record []string, col int) float64 {
	if col >= len(record) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
