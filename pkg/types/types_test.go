package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberMarshalsNonFiniteAsNull(t *testing.T) {
	m := EmptyMetrics()
	m.CAGR = Num(0.12)
	m.Sharpe = Num(math.Inf(1))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 0.12, raw["cagr"])
	assert.Nil(t, raw["sharpe"])
	assert.Nil(t, raw["max_drawdown"])

	var back Metrics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.Sharpe.Defined())
	assert.InDelta(t, 0.12, back.CAGR.Float(), 1e-12)
}

func TestBetterSortsUndefinedLast(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Number
		lower bool
		want  bool
	}{
		{"higher wins", 2, 1, false, true},
		{"lower wins when lower is better", 1, 2, true, true},
		{"undefined never wins", Undefined(), 1, false, false},
		{"defined beats undefined", -5, Undefined(), false, true},
		{"undefined vs undefined", Undefined(), Undefined(), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Better(tt.a, tt.b, tt.lower))
		})
	}
}

func TestParseFillMode(t *testing.T) {
	m, err := ParseFillMode("oc")
	require.NoError(t, err)
	assert.Equal(t, FillOpenToClose, m)

	m, err = ParseFillMode("")
	require.NoError(t, err)
	assert.Equal(t, FillCloseToClose, m)

	_, err = ParseFillMode("XX")
	assert.Error(t, err)
}

func TestMetricValueLookup(t *testing.T) {
	m := EmptyMetrics()
	m.MaxDrawdown = 0.2
	m.TradingDays = 10

	v, err := m.Value(MetricMaxDrawdown)
	require.NoError(t, err)
	assert.Equal(t, Number(0.2), v)
	assert.True(t, MetricMaxDrawdown.LowerIsBetter())
	assert.False(t, MetricSharpe.LowerIsBetter())

	v, err = m.Value(MetricTradingDays)
	require.NoError(t, err)
	assert.Equal(t, Number(10), v)

	_, err = m.Value("alpha")
	assert.Error(t, err)
}

func TestSearchDate(t *testing.T) {
	d := func(s string) time.Time {
		v, err := ParseDate(s)
		require.NoError(t, err)
		return v
	}
	table := &PriceTable{Dates: []time.Time{d("2020-01-02"), d("2020-01-03"), d("2020-01-06")}}

	assert.Equal(t, 0, table.SearchDate(d("2019-12-31")))
	assert.Equal(t, 2, table.SearchDate(d("2020-01-04")))
	assert.Equal(t, 2, table.SearchDate(d("2020-01-06")))
	assert.Equal(t, 3, table.SearchDate(d("2020-02-01")))
}
